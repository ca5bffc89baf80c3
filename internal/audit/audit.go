// Package audit defines the playback history record and the two transitions
// it may go through.
package audit

import (
	"fmt"
	"time"
)

// Source tags where a request came from. It is immutable once a record exists.
type Source string

// Known request sources.
const (
	SourceManual       Source = "manual"
	SourceBits         Source = "bits"
	SourceRedeem       Source = "redeem"
	SourceSubscription Source = "subscription"
	SourceRequeue      Source = "requeue"
)

// State is the lifecycle state of a history record.
type State string

// Record states. Playing is initial, finished is terminal.
const (
	StatePlaying  State = "playing"
	StateFinished State = "finished"
)

// MissingTextPlaceholder is stored when a request carried no text at all.
const MissingTextPlaceholder = "[No TTS text found]"

// Item is one accepted playback attempt, keyed by the id the playback engine
// assigned to it.
type Item struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Source    Source    `json:"source"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	State     State     `json:"state"`
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceBits, SourceRedeem, SourceSubscription, SourceRequeue:
		return true
	default:
		return false
	}
}

// ParseSource converts a wire value into a Source.
func ParseSource(value string) (Source, error) {
	source := Source(value)
	if !source.Valid() {
		return "", fmt.Errorf("unknown audit source %q", value)
	}

	return source, nil
}

// ShouldCreate reports whether a successful dispatch may create a record.
// Re-queued requests carry the id of the item they replay and never create one.
func ShouldCreate(originID *int64) bool {
	return originID == nil
}

// NewPlaying builds the record for a freshly accepted dispatch.
func NewPlaying(id int64, text, username string, source Source, now time.Time) Item {
	if text == "" {
		text = MissingTextPlaceholder
	}

	return Item{
		ID:        id,
		Text:      text,
		Source:    source,
		Username:  username,
		CreatedAt: now,
		State:     StatePlaying,
	}
}

// CanFinish reports whether item may take the Finish transition.
func CanFinish(item Item) bool {
	return item.State == StatePlaying
}
