// Package scanerr is the taxonomy of QR scan failures. Every failure is a
// single *Error tagged with a Code; the code fixes its default message and
// whether automated recovery may be attempted.
package scanerr

import (
	"errors"
	"strings"
)

// Code identifies a scan failure mode.
type Code string

const (
	InvalidQR         Code = "invalid_qr"
	ExpiredQR         Code = "expired_qr"
	UnsupportedType   Code = "unsupported_type"
	SelfScan          Code = "self_scan"
	ProfileNotFound   Code = "profile_not_found"
	RequestFailed     Code = "request_failed"
	PermissionDenied  Code = "permission_denied"
	CameraUnavailable Code = "camera_unavailable"
	NetworkError      Code = "network_error"
	// Offline means the device had no connectivity when the scan arrived;
	// the scan is queued for replay instead of failing as expired.
	Offline Code = "offline"
)

// MaxRetries bounds recovery attempts per error.
const MaxRetries = 3

const retryHint = " Tap anywhere to try again."

var defaultMessages = map[Code]string{
	InvalidQR:         "Invalid QR code. Please try scanning a valid DigiDex QR code.",
	ExpiredQR:         "This QR code has expired. Please request a new one.",
	UnsupportedType:   "Unsupported QR code type. Please scan a DigiDex contact QR code.",
	SelfScan:          "You cannot scan your own QR code.",
	ProfileNotFound:   "User profile not found. They may have deleted their account.",
	RequestFailed:     "Failed to process contact request. Please try again.",
	PermissionDenied:  "Camera permission denied. Please enable camera access in settings.",
	CameraUnavailable: "Camera is not available on this device.",
	NetworkError:      "Network error. Please check your connection and try again.",
	Offline:           "You appear to be offline. Your scan was saved and will be processed when you reconnect.",
}

// Codes lists every known code.
func Codes() []Code {
	return []Code{
		InvalidQR, ExpiredQR, UnsupportedType, SelfScan, ProfileNotFound,
		RequestFailed, PermissionDenied, CameraUnavailable, NetworkError, Offline,
	}
}

// DefaultMessage returns the user-facing message for code.
func DefaultMessage(code Code) string {
	if msg, ok := defaultMessages[code]; ok {
		return msg
	}
	return defaultMessages[RequestFailed]
}

// IsRecoverable reports whether errors with code may be retried at all.
func IsRecoverable(code Code) bool {
	switch code {
	case RequestFailed, NetworkError, InvalidQR:
		return true
	default:
		return false
	}
}

// Error is a scan failure.
type Error struct {
	Code        Code   `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	RetryCount  int    `json:"retry_count"`
	Err         error  `json:"-"`
}

// New returns an error for code. An optional message replaces the default.
func New(code Code, message ...string) *Error {
	msg := strings.TrimSpace(strings.Join(message, " "))
	if msg == "" {
		msg = DefaultMessage(code)
	}
	return &Error{
		Code:        code,
		Message:     msg,
		Recoverable: IsRecoverable(code),
	}
}

// Wrap converts err into a scan error. Scan errors pass through unchanged
// and everything else becomes RequestFailed. The cause stays reachable
// through Unwrap.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if se, ok := As(err); ok {
		return se
	}
	e := New(RequestFailed)
	e.Err = err
	return e
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CanRetry reports whether another recovery attempt is allowed.
func (e *Error) CanRetry() bool {
	return e.Recoverable && e.RetryCount < MaxRetries
}

func (e *Error) IncrementRetry() {
	e.RetryCount++
}

// AccessibilityMessage is the screen reader announcement for e.
func (e *Error) AccessibilityMessage() string {
	if e.CanRetry() {
		return e.Message + retryHint
	}
	return e.Message
}

// As extracts a *Error from err's chain.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Is reports whether err carries a scan error with code.
func Is(err error, code Code) bool {
	se, ok := As(err)
	return ok && se.Code == code
}

// IsTransient applies the connectivity heuristic used for replays: network
// scan errors, or any error whose message mentions a network, a timeout or
// an unavailable dependency.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := As(err); ok && (se.Code == NetworkError || se.Code == Offline) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "network") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "unavailable")
}
