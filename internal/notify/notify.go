// Package notify carries pipeline completion events to whoever owns the asset
// record once processing ends.
package notify

import (
	"context"
	"errors"
	"time"
)

// EventType distinguishes the two terminal outcomes.
type EventType string

const (
	EventReady  EventType = "asset.ready"
	EventFailed EventType = "asset.failed"
)

// Event reports a terminal asset transition. Failure events name the failing
// rendition and the error class so an operator can act on them.
type Event struct {
	Type        EventType `json:"type"`
	AssetID     string    `json:"asset_id"`
	Collection  string    `json:"collection"`
	RunID       string    `json:"run_id"`
	Generation  int       `json:"generation"`
	ManifestKey string    `json:"manifest_key,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Rendition   string    `json:"rendition,omitempty"`
	ErrorClass  string    `json:"error_class,omitempty"`
	Transient   bool      `json:"transient,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier receives events. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, ev Event) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }
