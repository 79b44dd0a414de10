package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"
)

// ErrorKind categorizes a failed remote request.
type ErrorKind int

const (
	// KindUnknown is any failure not covered below.
	KindUnknown ErrorKind = iota
	// KindPolicy means the request or the generated image was blocked by a
	// content policy.
	KindPolicy
	// KindEmpty means the model answered without an image.
	KindEmpty
	// KindQuota means the API quota was exceeded or the call was rate limited.
	KindQuota
	// KindInvalidKey means the API key is invalid, revoked or lacks permissions.
	KindInvalidKey
	// KindTransport covers network failures, timeouts and server errors.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindPolicy:
		return "policy"
	case KindEmpty:
		return "empty"
	case KindQuota:
		return "quota"
	case KindInvalidKey:
		return "invalid_key"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// EditError is returned for every failed remote request. Message is safe to
// show to the user as-is.
type EditError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *EditError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *EditError) Unwrap() error {
	return e.Err
}

// UserMessage returns the single display string for this failure.
func (e *EditError) UserMessage() string {
	return e.Message
}

// ClassifyError converts an error returned by the Gemini SDK into an
// *EditError. It returns nil for a nil error and passes an existing
// *EditError through unchanged.
func ClassifyError(err error) *EditError {
	if err == nil {
		return nil
	}

	var editErr *EditError
	if errors.As(err, &editErr) {
		return editErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &EditError{Kind: KindTransport, Message: "The request timed out. Please try again.", Err: err}
	case errors.Is(err, context.Canceled):
		return &EditError{Kind: KindTransport, Message: "The request was cancelled.", Err: err}
	}

	// The SDK returns APIError by value.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyAPIError(*apiErrPtr, err)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		return &EditError{Kind: KindInvalidKey, Message: "Your API key is invalid or has been revoked.", Err: err}

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return &EditError{Kind: KindQuota, Message: "The API quota was exceeded. Please wait a moment and try again.", Err: err}

	case strings.Contains(errLower, "safety") ||
		strings.Contains(errLower, "blocked") ||
		strings.Contains(errLower, "prohibited"):
		return &EditError{Kind: KindPolicy, Message: "The request was blocked by the content policy. Try a different photo or instruction.", Err: err}

	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return &EditError{Kind: KindTransport, Message: "Could not reach the image service. Check your internet connection.", Err: err}

	default:
		return &EditError{Kind: KindUnknown, Message: "The image service returned an error. Please try again.", Err: err}
	}
}

func classifyAPIError(apiErr genai.APIError, err error) *EditError {
	switch {
	case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "api key"):
		return &EditError{Kind: KindInvalidKey, Message: "Your API key is malformed or invalid.", Err: err}
	case apiErr.Code == 401 || apiErr.Code == 403:
		return &EditError{Kind: KindInvalidKey, Message: "Your API key is invalid, expired, or lacks permissions.", Err: err}
	case apiErr.Code == 429:
		return &EditError{Kind: KindQuota, Message: "The API quota was exceeded. Please wait a moment and try again.", Err: err}
	case apiErr.Code >= 500:
		return &EditError{Kind: KindTransport, Message: "The image service is temporarily unavailable. Please try again.", Err: err}
	case apiErr.Code == 400:
		return &EditError{Kind: KindUnknown, Message: "The image service rejected the request: " + firstLine(apiErr.Message), Err: err}
	default:
		return &EditError{Kind: KindUnknown, Message: "The image service returned an error. Please try again.", Err: err}
	}
}

// policyFinishReasons are candidate finish reasons that mean the output was
// withheld for policy reasons.
var policyFinishReasons = map[genai.FinishReason]bool{
	genai.FinishReasonSafety:                 true,
	genai.FinishReasonProhibitedContent:      true,
	genai.FinishReasonBlocklist:              true,
	genai.FinishReasonSPII:                   true,
	genai.FinishReasonImageSafety:            true,
	genai.FinishReasonImageProhibitedContent: true,
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncateString(s, 200)
}

// truncateString truncates a string to at most maxLen bytes, appending "..."
// if truncated. The cut never splits a UTF-8 sequence.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
