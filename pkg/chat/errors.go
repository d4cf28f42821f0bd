package chat

import (
	"errors"
	"regexp"

	"agentcore/pkg/llmerrors"
)

const redactedMarker = "[redacted]"

// Credential shapes that vendors sometimes echo back in error bodies.
//
//nolint:gochecknoglobals // compiled once
var secretPatterns = compileSecretPatterns(
	`sk-ant-[A-Za-z0-9_-]{20,}`,
	`sk-proj-[A-Za-z0-9_-]{20,}`,
	`sk-or-v1-[A-Za-z0-9]{20,}`,
	`sk-[A-Za-z0-9]{32,}`,
	`gsk_[A-Za-z0-9]{20,}`,
	`xai-[A-Za-z0-9]{20,}`,
	`AIza[0-9A-Za-z_-]{35}`,
	`AKIA[0-9A-Z]{16}`,
	`(?i)api[_-]?key["']?\s*[:=]\s*["']?[A-Za-z0-9_-]{20,}["']?`,
	`(?i)Bearer\s+[A-Za-z0-9._-]{20,}`,
	`gh[pousr]_[A-Za-z0-9]{36}`,
)

func compileSecretPatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Redact replaces anything that looks like a credential with a marker and reports
// whether it changed the text.
func Redact(text string) (string, bool) {
	changed := false
	for _, re := range secretPatterns {
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, redactedMarker)
			changed = true
		}
	}
	return text, changed
}

// redactedError keeps the original chain for errors.Is/As while hiding secrets from the
// message shown to the user.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// TranslateError turns a run failure into the error handed to an observer. Image
// refusals become actionable advice; everything else keeps its message, minus secrets.
func TranslateError(err error, model string) error {
	if err == nil {
		return nil
	}
	err = llmerrors.RewriteUnsupportedImage(err, model)
	if msg, changed := Redact(err.Error()); changed {
		return &redactedError{msg: msg, err: err}
	}
	return err
}

// IsUnsupportedImage reports whether a run error was an image refusal.
func IsUnsupportedImage(err error) bool {
	var e *llmerrors.Error
	return errors.As(err, &e) && e.Type == llmerrors.ErrorTypeUnsupportedInput
}
