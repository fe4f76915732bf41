package anthropic

import (
	"net/http"
	"net/url"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

// apiError builds an SDK error the way the client receives one from a failed
// API call. Request and Response must be populated for Error() to format.
func apiError(status int) *sdk.Error {
	return &sdk.Error{
		StatusCode: status,
		Request: &http.Request{
			Method: http.MethodPost,
			URL:    &url.URL{Scheme: "https", Host: "api.anthropic.com", Path: "/v1/messages"},
		},
		Response: &http.Response{StatusCode: status},
	}
}

func TestClassifyErr(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"quota exhausted", http.StatusPaymentRequired, ErrQuotaExhausted},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"overloaded", http.StatusServiceUnavailable, ErrUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyErr(apiError(tc.status))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestClassifyErr_WrappedAPIError(t *testing.T) {
	err := classifyErr(eris.Wrap(apiError(http.StatusTooManyRequests), "messages.New"))
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestClassifyErr_TransportFailure(t *testing.T) {
	err := classifyErr(eris.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMessageResponseText(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "Hello"},
			{Type: "tool_use", Text: "ignored"},
			{Type: "text", Text: " world"},
		},
	}
	assert.Equal(t, "Hello world", resp.Text())
}

func TestMessageResponseText_NilReceiver(t *testing.T) {
	var resp *MessageResponse
	assert.Empty(t, resp.Text())
}

func TestMessageResponseText_UntypedBlocksIncluded(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{{Text: "plain"}},
	}
	assert.Equal(t, "plain", resp.Text())
}

func TestEstimateCost_KnownModel(t *testing.T) {
	usage := TokenUsage{
		InputTokens:  1_000_000,
		OutputTokens: 1_000_000,
	}
	// sonnet: $3/MTok in + $15/MTok out
	assert.InDelta(t, 18.0, usage.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
}

func TestEstimateCost_CacheTokens(t *testing.T) {
	usage := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	// cache write at 1.25x input price, cache read at 0.1x
	assert.InDelta(t, 3.0*1.25+3.0*0.1, usage.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	usage := TokenUsage{InputTokens: 5000}
	assert.Zero(t, usage.EstimateCost("claude-imaginary-1"))
}
