package media

import (
	"errors"
	"fmt"
	"strings"
)

// Kind says whether a failure may succeed on retry.
type Kind int

const (
	Permanent Kind = iota
	Transient
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// Class markers. Every pipeline failure unwraps to exactly one of these.
var (
	ErrConfig       = errors.New("configuration error")
	ErrTranscode    = errors.New("transcode error")
	ErrSegmentation = errors.New("segmentation error")
	ErrStorage      = errors.New("storage error")
	ErrCancelled    = errors.New("cancelled")
)

// Error is a classified pipeline failure.
type Error struct {
	Class error
	Kind  Kind
	Op    string
	Err   error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Class != nil {
		parts = append(parts, e.Class.Error())
	}
	if op := strings.TrimSpace(e.Op); op != "" {
		parts = append(parts, op)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes both the class marker and the underlying cause to errors.Is.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Class != nil {
		out = append(out, e.Class)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// ConfigError reports an invalid collection configuration. Never retried.
func ConfigError(op, format string, args ...any) error {
	return &Error{Class: ErrConfig, Kind: Permanent, Op: op, Err: fmt.Errorf(format, args...)}
}

// TranscodeError wraps a transcoder failure with its retry classification.
func TranscodeError(kind Kind, op string, err error) error {
	return &Error{Class: ErrTranscode, Kind: kind, Op: op, Err: err}
}

// SegmentationError reports inconsistent transcoder output. Always permanent.
func SegmentationError(op string, err error) error {
	return &Error{Class: ErrSegmentation, Kind: Permanent, Op: op, Err: err}
}

// StorageError wraps a blob store failure with its retry classification.
func StorageError(kind Kind, op string, err error) error {
	return &Error{Class: ErrStorage, Kind: kind, Op: op, Err: err}
}

// IsTransient reports whether err carries a Transient classification.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == Transient
	}
	return false
}

// ClassName returns a short label for the failure class, for logs and events.
func ClassName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrTranscode):
		return "transcode"
	case errors.Is(err, ErrSegmentation):
		return "segmentation"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "unknown"
	}
}
