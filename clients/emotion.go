package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
)

// ErrMalformedResponse marks a 2xx body that does not match the analysis
// schema. Nothing from such a body may reach the aggregator.
var ErrMalformedResponse = errors.New("malformed analysis response")

// --- Emotion (/analyze) ---
type EmoScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type AnalysisStages struct {
	Total   float64 `json:"total"`
	Submit  float64 `json:"submit"`
	Poll    float64 `json:"poll"`
	Predict float64 `json:"predict"`
}

// Timing is diagnostic only.
type Timing struct {
	FileSave   float64        `json:"file_save"`
	Processing float64        `json:"processing"`
	Analysis   AnalysisStages `json:"analysis"`
	Total      float64        `json:"total"`
}

type EmoResp struct {
	Emotions []EmoScore
	Duration float64
	Timing   *Timing
}

// wire shape; pointers distinguish absent fields from zero values
type emoRespWire struct {
	Emotions *[]struct {
		Name  *string  `json:"name"`
		Score *float64 `json:"score"`
	} `json:"emotions"`
	Duration float64 `json:"duration"`
	Timing   *Timing `json:"timing"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

// StatusError is returned for any non-2xx answer from the classifier.
type StatusError struct {
	StatusCode int
	Status     string
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("emotion %s", e.Status)
	}
	return fmt.Sprintf("emotion %s: %s", e.Status, e.Detail)
}

const maxErrorBody = 64 << 10

// Emotion talks to the emotion classifier service.
type Emotion struct {
	h        *HTTP
	url      string
	filename string
	mimeType string
}

func NewEmotion(h *HTTP, url, filename, mimeType string) *Emotion {
	if h == nil {
		h = NewHTTP()
	}
	if filename == "" {
		filename = "audio.webm"
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &Emotion{h: h, url: url, filename: filename, mimeType: mimeType}
}

// Analyze uploads one self-contained audio blob and returns validated scores.
func (e *Emotion) Analyze(ctx context.Context, submissionID string, blob []byte) (*EmoResp, error) {
	var fields map[string]string
	if submissionID != "" {
		fields = map[string]string{"submission_id": submissionID}
	}
	req, err := newUpload(ctx, endpoint(e.url, "/analyze"), e.filename, e.mimeType, blob, fields)
	if err != nil {
		return nil, err
	}
	if submissionID != "" {
		req.Header.Set("X-Submission-ID", submissionID)
	}

	resp, err := e.h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Detail != "" {
			se.Detail = eb.Detail
		} else {
			se.Detail = string(bytes.TrimSpace(body))
		}
		return nil, se
	}

	var wire emoRespWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}
	return validate(&wire)
}

func validate(wire *emoRespWire) (*EmoResp, error) {
	if wire.Emotions == nil {
		return nil, fmt.Errorf("%w: missing emotions", ErrMalformedResponse)
	}
	out := &EmoResp{
		Emotions: make([]EmoScore, 0, len(*wire.Emotions)),
		Duration: wire.Duration,
		Timing:   wire.Timing,
	}
	seen := make(map[string]struct{}, len(*wire.Emotions))
	for i, em := range *wire.Emotions {
		if em.Name == nil || *em.Name == "" {
			return nil, fmt.Errorf("%w: emotion %d has no name", ErrMalformedResponse, i)
		}
		if em.Score == nil {
			return nil, fmt.Errorf("%w: emotion %q has no score", ErrMalformedResponse, *em.Name)
		}
		s := *em.Score
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 || s > 1 {
			return nil, fmt.Errorf("%w: emotion %q score %v outside [0,1]", ErrMalformedResponse, *em.Name, s)
		}
		if _, dup := seen[*em.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate emotion %q", ErrMalformedResponse, *em.Name)
		}
		seen[*em.Name] = struct{}{}
		out.Emotions = append(out.Emotions, EmoScore{Name: *em.Name, Score: s})
	}
	return out, nil
}

type pingResp struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Ping checks the service health endpoint.
func (e *Emotion) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(e.url, "/test"), nil)
	if err != nil {
		return err
	}
	resp, err := e.h.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("emotion ping %s: %s", resp.Status, string(body))
	}
	var out pingResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("emotion ping decode: %w", err)
	}
	if out.Status != "ok" {
		return fmt.Errorf("emotion ping: status %q", out.Status)
	}
	return nil
}
