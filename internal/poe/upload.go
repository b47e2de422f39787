package poe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/poeproxy/poe-openai-proxy/internal/buildinfo"
	"github.com/tidwall/gjson"
)

// Upload sends data to the Poe attachment endpoint and returns the handle to
// reference it from a ProtocolMessage.
func (c *Client) Upload(ctx context.Context, name, contentType string, data []byte) (Attachment, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return Attachment{}, fmt.Errorf("poe: create upload part: %w", err)
	}
	if _, err = part.Write(data); err != nil {
		return Attachment{}, fmt.Errorf("poe: write upload part: %w", err)
	}
	if err = writer.Close(); err != nil {
		return Attachment{}, fmt.Errorf("poe: close upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &buf)
	if err != nil {
		return Attachment{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept-Encoding", acceptEncoding)
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Attachment{}, &StatusError{Code: http.StatusBadGateway, Message: fmt.Sprintf("Failed to upload file to Poe: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		upstream := readUpstreamError("upload", resp)
		upstream.Message = fmt.Sprintf("Failed to upload file to Poe: status %d", resp.StatusCode)
		return Attachment{}, upstream
	}
	body, err := decodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return Attachment{}, err
	}
	defer func() { _ = body.Close() }()
	raw, err := io.ReadAll(body)
	if err != nil {
		return Attachment{}, fmt.Errorf("poe: read upload response: %w", err)
	}

	url := strings.TrimSpace(gjson.GetBytes(raw, "attachment_url").String())
	if url == "" {
		return Attachment{}, &StatusError{Code: http.StatusBadGateway, Message: "Failed to upload file to Poe: response has no attachment_url"}
	}
	att := Attachment{URL: url, ContentType: gjson.GetBytes(raw, "mime_type").String(), Name: name}
	if att.ContentType == "" {
		att.ContentType = contentType
	}
	return att, nil
}
