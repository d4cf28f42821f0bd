package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   ErrorType
		status int
	}{
		{"unauthorized status", errors.New("POST /v1/messages: 401 Unauthorized"), ErrorTypeAuth, 401},
		{"rate limited", errors.New("status code: 429"), ErrorTypeRateLimit, 429},
		{"bad request", errors.New("400 Bad Request: messages.0 invalid"), ErrorTypeBadPrompt, 400},
		{"server error", errors.New("HTTP 503 from upstream"), ErrorTypeTransient, 503},
		{"network text", errors.New("read tcp: connection reset by peer"), ErrorTypeTransient, 0},
		{"quota text", errors.New("monthly quota exhausted"), ErrorTypeRateLimit, 0},
		{"image refusal", errors.New("this model does not support image input"), ErrorTypeUnsupportedInput, 0},
		{"unrecognised", errors.New("something odd"), ErrorTypeUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			var e *Error
			require.ErrorAs(t, got, &e)
			assert.Equal(t, tt.want, e.Type)
			assert.Equal(t, tt.status, e.StatusCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyLeavesContextErrorsAlone(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, context.Canceled, Classify(context.Canceled))

	wrapped := fmt.Errorf("stream: %w", context.DeadlineExceeded)
	assert.Equal(t, wrapped, Classify(wrapped))

	already := Configuration("missing base url for %s", "openai-compatible")
	assert.Same(t, already, Classify(already))
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrorTypeRateLimit, "slow down")))
	assert.True(t, IsRetryable(NewError(ErrorTypeTransient, "eof")))
	assert.False(t, IsRetryable(NewError(ErrorTypeAuth, "nope")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestConfigurationPredicate(t *testing.T) {
	err := fmt.Errorf("resolve: %w", Configuration("unknown provider kind %q", "foo"))
	assert.True(t, IsConfiguration(err))
	assert.Equal(t, ErrorTypeConfiguration, TypeOf(err))
	assert.Contains(t, err.Error(), `unknown provider kind "foo"`)
}

func TestServiceUnavailableWrapsCause(t *testing.T) {
	cause := NewError(ErrorTypeTransient, "503")
	err := NewServiceUnavailableError(cause, 3)
	assert.Equal(t, ErrorTypeServiceUnavailable, err.Type)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRewriteUnsupportedImage(t *testing.T) {
	t.Run("rewrites image refusal", func(t *testing.T) {
		raw := errors.New(`400: {"error":{"message":"Invalid content type. image_url is only supported by certain models."}}`)
		got := RewriteUnsupportedImage(raw, "gpt-3.5-turbo")
		assert.True(t, Is(got, ErrorTypeUnsupportedInput))
		assert.Contains(t, got.Error(), "gpt-3.5-turbo cannot read image attachments")
		assert.Contains(t, got.Error(), "vision-capable model")
		assert.ErrorIs(t, got, raw)
	})

	t.Run("passes other errors through", func(t *testing.T) {
		raw := errors.New("500 internal server error")
		assert.Same(t, raw, RewriteUnsupportedImage(raw, "gpt-4o"))
	})

	t.Run("falls back to generic model name", func(t *testing.T) {
		got := RewriteUnsupportedImage(errors.New("Model does not support vision"), "")
		assert.Contains(t, got.Error(), "the selected model cannot read")
	})
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "configuration", ErrorTypeConfiguration.String())
	assert.Equal(t, "critical_node", ErrorTypeCriticalNode.String())
	assert.Equal(t, "invalid", ErrorType(99).String())
}

func TestClassifyStatus(t *testing.T) {
	cause := errors.New("upstream said no")
	assert.Nil(t, ClassifyStatus(0, cause))
	assert.Nil(t, ClassifyStatus(302, cause))
	assert.Equal(t, ErrorTypeAuth, TypeOf(ClassifyStatus(403, cause)))
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(ClassifyStatus(429, cause)))
	assert.Equal(t, ErrorTypeTransient, TypeOf(ClassifyStatus(529, cause)))
	assert.Equal(t, ErrorTypeBadPrompt, TypeOf(ClassifyStatus(400, cause)))
	assert.Equal(t, ErrorTypeUnsupportedInput, TypeOf(ClassifyStatus(400, errors.New("this model does not support images"))))

	var e *Error
	require.ErrorAs(t, ClassifyStatus(503, cause), &e)
	assert.Equal(t, 503, e.StatusCode)
	assert.ErrorIs(t, e, cause)
}
