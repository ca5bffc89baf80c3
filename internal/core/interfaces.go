// Package core defines the ports the orchestrator talks to and the error kinds
// a request can end with.
package core

import (
	"context"

	"github.com/book-expert/stream-tts/internal/audit"
)

// Param is one ordered key/value pair handed to the playback engine.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PlayRequest is the payload of a single playback invocation.
// ID is only set when an already audited item is replayed.
type PlayRequest struct {
	ID       *int64  `json:"id,omitempty"`
	Device   string  `json:"device"`
	Volume   int     `json:"volume"`
	Provider string  `json:"tts"`
	URL      string  `json:"url"`
	Params   []Param `json:"params"`
}

// PlaybackEngine synthesizes and plays audio outside this service.
type PlaybackEngine interface {
	// Invoke dispatches a request and returns the id the engine assigned to it.
	Invoke(ctx context.Context, req PlayRequest) (int64, error)
	// OnFinished registers fn for every "playback finished" signal and returns
	// a function that releases the registration.
	OnFinished(fn func(id int64)) (func(), error)
}

// HistoryStore is the append/update log of audit items.
type HistoryStore interface {
	CreateRecord(ctx context.Context, item audit.Item) error
	// UpdateState moves the record with the given id to state. Unknown ids and
	// records that cannot take the transition are left untouched.
	UpdateState(ctx context.Context, id int64, state audit.State) (bool, error)
	Get(ctx context.Context, id int64) (audit.Item, bool, error)
	// List returns every record, newest first.
	List(ctx context.Context) ([]audit.Item, error)
}

// SettingsSource exposes one reactive stream per setting key.
type SettingsSource interface {
	// Watch calls fn with the latest raw value of key, now and on every change.
	Watch(key string, fn func(value []byte)) (func(), error)
}

// Severity classifies a user-visible notification.
type Severity string

// Notification severities.
const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notifier shows a dismissible message to the operator.
type Notifier interface {
	Notify(message string, severity Severity)
}
