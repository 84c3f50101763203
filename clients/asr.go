package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// --- ASR (/transcribe) ---
type TransSeg struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
type ASRResp struct {
	Segments []TransSeg `json:"segments"`
	Language string     `json:"language"`
}

// Text joins the non-empty segment texts with single spaces.
func (r *ASRResp) Text() string {
	parts := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// ASR talks to the speech-to-text service.
type ASR struct {
	h        *HTTP
	url      string
	filename string
	mimeType string
}

func NewASR(h *HTTP, url, filename, mimeType string) *ASR {
	if h == nil {
		h = NewHTTP()
	}
	if filename == "" {
		filename = "audio.webm"
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &ASR{h: h, url: url, filename: filename, mimeType: mimeType}
}

// Transcribe uploads a whole recording and returns its segments.
func (a *ASR) Transcribe(ctx context.Context, blob []byte) (*ASRResp, error) {
	req, err := newUpload(ctx, endpoint(a.url, "/transcribe"), a.filename, a.mimeType, blob, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("asr %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out ASRResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("asr decode: %w", err)
	}
	return &out, nil
}
