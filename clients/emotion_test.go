package clients

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "http://classifier.test"

func setupHTTPMock(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

func registerAnalyzeResponder(t *testing.T, status int, body string) {
	t.Helper()
	httpmock.RegisterResponder(http.MethodPost, testURL+"/analyze",
		httpmock.NewStringResponder(status, body))
}

func TestEmotion_Analyze_Success(t *testing.T) {
	setupHTTPMock(t)

	var gotFile []byte
	var gotSubmission, gotHeader, gotMime string
	httpmock.RegisterResponder(http.MethodPost, testURL+"/analyze",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			f, fh, err := req.FormFile("file")
			require.NoError(t, err)
			defer f.Close()
			gotFile, _ = io.ReadAll(f)
			gotMime = fh.Header.Get("Content-Type")
			gotSubmission = req.FormValue("submission_id")
			gotHeader = req.Header.Get("X-Submission-ID")
			return httpmock.NewStringResponse(http.StatusOK, `{
				"emotions": [{"name": "Calmness", "score": 0.71}, {"name": "Joy", "score": 0.2}],
				"duration": 9.0,
				"timing": {"total": 1.5, "analysis": {"total": 1.2, "submit": 0.2, "poll": 0.8, "predict": 0.2}}
			}`), nil
		})

	c := NewEmotion(nil, testURL+"/", "audio.webm", "audio/webm")
	resp, err := c.Analyze(context.Background(), "sub-1", []byte("HEADERchunk"))

	require.NoError(t, err)
	assert.Equal(t, []byte("HEADERchunk"), gotFile)
	assert.Equal(t, "audio/webm", gotMime)
	assert.Equal(t, "sub-1", gotSubmission)
	assert.Equal(t, "sub-1", gotHeader)

	require.Len(t, resp.Emotions, 2)
	assert.Equal(t, EmoScore{Name: "Calmness", Score: 0.71}, resp.Emotions[0])
	assert.InDelta(t, 9.0, resp.Duration, 1e-9)
	require.NotNil(t, resp.Timing)
	assert.InDelta(t, 0.8, resp.Timing.Analysis.Poll, 1e-9)
}

func TestEmotion_Analyze_EmptyEmotionsIsValid(t *testing.T) {
	setupHTTPMock(t)
	registerAnalyzeResponder(t, http.StatusOK, `{"emotions": [], "duration": 3}`)

	resp, err := NewEmotion(nil, testURL, "", "").Analyze(context.Background(), "", []byte("x"))
	require.NoError(t, err)
	assert.Empty(t, resp.Emotions)
	assert.Nil(t, resp.Timing)
}

func TestEmotion_Analyze_StatusError(t *testing.T) {
	setupHTTPMock(t)

	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"detail_json", http.StatusInternalServerError, `{"detail": "FFmpeg conversion failed"}`, "FFmpeg conversion failed"},
		{"bad_request", http.StatusBadRequest, `{"detail": "No audio file provided"}`, "No audio file provided"},
		{"plain_text", http.StatusBadGateway, `upstream down`, "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpmock.Reset()
			registerAnalyzeResponder(t, tt.status, tt.body)

			resp, err := NewEmotion(nil, testURL, "", "").Analyze(context.Background(), "s", []byte("x"))
			require.Error(t, err)
			assert.Nil(t, resp)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.wantDetail, se.Detail)
		})
	}
}

func TestEmotion_Analyze_Malformed(t *testing.T) {
	setupHTTPMock(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid_json", `{invalid`},
		{"missing_emotions", `{"duration": 3}`},
		{"missing_name", `{"emotions": [{"score": 0.3}]}`},
		{"empty_name", `{"emotions": [{"name": "", "score": 0.3}]}`},
		{"missing_score", `{"emotions": [{"name": "Joy"}]}`},
		{"score_above_one", `{"emotions": [{"name": "Joy", "score": 1.5}]}`},
		{"negative_score", `{"emotions": [{"name": "Joy", "score": -0.1}]}`},
		{"duplicate_name", `{"emotions": [{"name": "Joy", "score": 0.1}, {"name": "Joy", "score": 0.2}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpmock.Reset()
			registerAnalyzeResponder(t, http.StatusOK, tt.body)

			resp, err := NewEmotion(nil, testURL, "", "").Analyze(context.Background(), "s", []byte("x"))
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.True(t, errors.Is(err, ErrMalformedResponse), "got %v", err)
		})
	}
}

func TestEmotion_Analyze_TransportError(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodPost, testURL+"/analyze",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := NewEmotion(nil, testURL, "", "").Analyze(context.Background(), "s", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestEmotion_Ping(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodGet, testURL+"/test",
		httpmock.NewStringResponder(http.StatusOK, `{"status": "ok", "message": "Server is running"}`))
	require.NoError(t, NewEmotion(nil, testURL, "", "").Ping(context.Background()))

	httpmock.Reset()
	httpmock.RegisterResponder(http.MethodGet, testURL+"/test",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, `down`))
	err := NewEmotion(nil, testURL, "", "").Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
