package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name    string
		result  any
		err     error
		want    string
		wantErr bool
	}{
		{"text passthrough", "plain text", nil, "plain text", false},
		{"bytes", []byte("raw"), nil, "raw", false},
		{"nil", nil, nil, "", false},
		{"struct to json", struct {
			Count int `json:"count"`
		}{3}, nil, `{"count":3}`, false},
		{"error", nil, errors.New("disk full"), "Tool failed: disk full", true},
		{"success false with message", map[string]any{"success": false, "error": "nope"}, nil, "nope", true},
		{"success false without message", map[string]any{"success": false}, nil, `Tool failed: {"success":false}`, true},
		{"success true", map[string]any{"success": true}, nil, `{"success":true}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isErr := FormatResult(tt.result, tt.err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, isErr)
		})
	}
}
