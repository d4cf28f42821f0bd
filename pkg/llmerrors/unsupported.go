package llmerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Substrings vendors use when a model rejects image content. Matched case-insensitively.
//
//nolint:gochecknoglobals // signature table
var unsupportedImageSignatures = []string{
	"does not support image",
	"image input is not supported",
	"image_url is only supported",
	"model does not support vision",
	"vision is not supported",
	"images are not supported",
	"invalid content type. image_url",
	"unsupported content type: image",
	"multimodal input is not supported",
	"this model can't see images",
	"this model does not support images",
}

// IsUnsupportedImage reports whether err looks like a vendor refusing image input.
func IsUnsupportedImage(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Type == ErrorTypeUnsupportedInput {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, sig := range unsupportedImageSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// RewriteUnsupportedImage turns an image-refusal error into a message telling the user
// to switch to a vision-capable model. Any other error is returned unchanged.
func RewriteUnsupportedImage(err error, model string) error {
	if !IsUnsupportedImage(err) {
		return err
	}
	name := model
	if name == "" {
		name = "the selected model"
	}
	return &Error{
		Type: ErrorTypeUnsupportedInput,
		Err:  err,
		Message: fmt.Sprintf(
			"%s cannot read image attachments. Choose a vision-capable model (for example claude-sonnet-4, gpt-4o or gemini-2.5-flash) or remove the image and try again",
			name),
	}
}
