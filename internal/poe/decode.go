package poe

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "gzip, br, zstd"

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

// decodeBody wraps the response body with a decoder matching Content-Encoding.
// Closing the returned reader closes the underlying body.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	body := resp.Body
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("poe: gzip reader: %w", err)
		}
		return readCloser{Reader: zr, close: func() error {
			_ = zr.Close()
			return body.Close()
		}}, nil
	case "deflate":
		fr := flate.NewReader(body)
		return readCloser{Reader: fr, close: func() error {
			_ = fr.Close()
			return body.Close()
		}}, nil
	case "br":
		return readCloser{Reader: brotli.NewReader(body), close: body.Close}, nil
	case "zstd":
		dec, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("poe: zstd reader: %w", err)
		}
		return readCloser{Reader: dec, close: func() error {
			dec.Close()
			return body.Close()
		}}, nil
	}
	return nil, fmt.Errorf("poe: unsupported content encoding %q", encoding)
}
