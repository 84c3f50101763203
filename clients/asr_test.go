package clients

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const asrURL = "http://asr.test"

func TestASR_Transcribe(t *testing.T) {
	setupHTTPMock(t)

	var gotFile []byte
	var gotMime string
	httpmock.RegisterResponder(http.MethodPost, asrURL+"/transcribe",
		func(req *http.Request) (*http.Response, error) {
			f, hdr, err := req.FormFile("file")
			if err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			defer f.Close()
			gotFile, _ = io.ReadAll(f)
			gotMime = hdr.Header.Get("Content-Type")
			return httpmock.NewStringResponse(http.StatusOK,
				`{"language":"en","segments":[{"start":0,"end":1.2,"text":" hello "},{"start":1.2,"end":1.5,"text":""},{"start":1.5,"end":2,"text":"there"}]}`), nil
		})

	a := NewASR(NewHTTP(), asrURL+"/", "rec.webm", "audio/webm")
	out, err := a.Transcribe(context.Background(), []byte("HDR!payload"))
	require.NoError(t, err)

	assert.Equal(t, "HDR!payload", string(gotFile))
	assert.Equal(t, "audio/webm", gotMime)
	assert.Equal(t, "en", out.Language)
	assert.Len(t, out.Segments, 3)
	assert.Equal(t, "hello there", out.Text())
}

func TestASR_Transcribe_Errors(t *testing.T) {
	setupHTTPMock(t)
	a := NewASR(nil, asrURL, "", "")

	tests := []struct {
		name   string
		status int
		body   string
		errMsg string
	}{
		{"server error", http.StatusBadGateway, "model offline\n", "model offline"},
		{"bad json", http.StatusOK, "{", "asr decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpmock.Reset()
			httpmock.RegisterResponder(http.MethodPost, asrURL+"/transcribe",
				httpmock.NewStringResponder(tt.status, tt.body))
			_, err := a.Transcribe(context.Background(), []byte("x"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
