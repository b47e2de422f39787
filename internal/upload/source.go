package upload

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Source is a file to upload: either in-memory bytes or a local path.
type Source struct {
	Name        string
	ContentType string
	Data        []byte
	Path        string
}

// BytesSource wraps in-memory data.
func BytesSource(name, contentType string, data []byte) Source {
	return Source{Name: name, ContentType: contentType, Data: data}
}

// PathSource references a file on the local filesystem.
func PathSource(path string) Source {
	return Source{Name: filepath.Base(path), Path: path}
}

var dataURLHeader = regexp.MustCompile(`^data:([\w.+-]+/[\w.+-]+)?(;[^,]*)?$`)

// DataURLSource decodes a base64 data: URL.
func DataURLSource(raw string) (Source, error) {
	header, payload, found := strings.Cut(raw, ",")
	if !found {
		return Source{}, fmt.Errorf("malformed data URL")
	}
	m := dataURLHeader.FindStringSubmatch(header)
	if m == nil || !strings.Contains(m[2], "base64") {
		return Source{}, fmt.Errorf("unsupported data URL header %q", header)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return Source{}, fmt.Errorf("decode data URL: %w", err)
	}
	contentType := m[1]
	if contentType == "" {
		contentType = "image/png"
	}
	name := "image"
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		name += exts[0]
	} else if _, sub, ok := strings.Cut(contentType, "/"); ok {
		name += "." + sub
	}
	return BytesSource(name, contentType, data), nil
}

// FileURLSource resolves a file:// URI to a PathSource.
func FileURLSource(raw string) (Source, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return Source{}, fmt.Errorf("parse file URI: %w", err)
	}
	path := parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	if path == "" {
		return Source{}, fmt.Errorf("file URI %q has no path", raw)
	}
	return PathSource(path), nil
}

// load reads Path sources and fills in a content type when missing.
func (s Source) load() (Source, error) {
	if s.Path != "" && s.Data == nil {
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return s, err
		}
		s.Data = data
		if s.Name == "" {
			s.Name = filepath.Base(s.Path)
		}
	}
	if s.Name == "" {
		s.Name = "upload"
	}
	if s.ContentType == "" {
		s.ContentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(s.Name)))
	}
	if s.ContentType == "" {
		s.ContentType = http.DetectContentType(s.Data)
	}
	if mediaType, _, err := mime.ParseMediaType(s.ContentType); err == nil {
		s.ContentType = mediaType
	}
	return s, nil
}
