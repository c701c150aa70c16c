package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/edgard/marketbot/internal/config"
)

type fakeModels struct {
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     int
	lastCfg   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	i := f.calls
	f.calls++
	f.lastCfg = cfg
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	return f.responses[i], nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}, Role: genai.RoleModel},
		}},
	}
}

func newTestClient(models generator, retries int) *sdkClient {
	return newSDKClient(models, config.GeminiConfig{ModelName: "test-model", MaxRetries: retries},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClassifyIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		resp    string
		want    bool
		wantErr bool
	}{
		{name: "yes", resp: `{"create_market": true}`, want: true},
		{name: "no", resp: `{"create_market": false}`, want: false},
		{name: "garbage", resp: `maybe?`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fm := &fakeModels{responses: []*genai.GenerateContentResponse{textResponse(tt.resp)}}
			got, err := newTestClient(fm, 0).ClassifyIntent(context.Background(), "could you spin up a market on the election")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "application/json", fm.lastCfg.ResponseMIMEType)
		})
	}
}

func TestClassifyIntentEmptyTextSkipsCall(t *testing.T) {
	t.Parallel()

	fm := &fakeModels{}
	got, err := newTestClient(fm, 0).ClassifyIntent(context.Background(), "   ")
	require.NoError(t, err)
	assert.False(t, got)
	assert.Zero(t, fm.calls)
}

func TestClassifyIntentRetriesServerErrors(t *testing.T) {
	t.Parallel()

	fm := &fakeModels{
		errs:      []error{&genai.APIError{Code: 503}, nil},
		responses: []*genai.GenerateContentResponse{nil, textResponse(`{"create_market": true}`)},
	}
	got, err := newTestClient(fm, 1).ClassifyIntent(context.Background(), "new market please")
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 2, fm.calls)
}

func TestClassifyIntentDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	fm := &fakeModels{errs: []error{&genai.APIError{Code: 400}}}
	_, err := newTestClient(fm, 3).ClassifyIntent(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, 1, fm.calls)

	var apiErr *genai.APIError
	assert.True(t, errors.As(err, &apiErr))
}
