package clients

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

type HTTP struct{ c *http.Client }

func NewHTTP() *HTTP { return NewHTTPWithTimeout(60 * time.Second) }

// NewHTTPWithTimeout bounds every request, including the body read. Callers
// still pass per-call deadlines through the request context.
func NewHTTPWithTimeout(d time.Duration) *HTTP {
	return &HTTP{c: &http.Client{Timeout: d}}
}

func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// newUpload builds a multipart POST carrying blob as the "file" part with
// the given mime type, followed by plain form fields.
func newUpload(ctx context.Context, url, filename, mimeType string, blob []byte, fields map[string]string) (*http.Request, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", mimeType)
	fw, err := w.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err = fw.Write(blob); err != nil {
		return nil, err
	}
	for k, v := range fields {
		if err = w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	return req, nil
}
