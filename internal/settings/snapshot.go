// Package settings keeps the latest known value of every operator setting the
// orchestrator reads while building and dispatching requests.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Setting keys, one reactive stream each.
const (
	KeyProvider       = "provider"
	KeyVolume         = "volume"
	KeyDevice         = "device"
	KeyAPIURL         = "api_url"
	KeyBannedWords    = "banned_words"
	KeyStreamElements = "stream_elements"
	KeyAmazonPolly    = "amazon_polly"
)

// Provider tags.
const (
	ProviderStreamElements = "stream-elements"
	ProviderAmazonPolly    = "amazon-polly"
)

const defaultVolume = 100

// ErrUnknownKey indicates a setting key the snapshot has no field for.
var ErrUnknownKey = errors.New("unknown setting key")

// StreamElements holds the settings of the stream-elements provider.
type StreamElements struct {
	Voice string `json:"voice"`
}

// AmazonPolly holds the settings of the Amazon Polly provider.
type AmazonPolly struct {
	Voice  string `json:"voice"`
	PoolID string `json:"pool_id"`
	Region string `json:"region"`
}

// Snapshot is a read-only copy of the latest known settings.
type Snapshot struct {
	Provider       string
	StreamElements StreamElements
	AmazonPolly    AmazonPolly
	Device         string
	Volume         int
	BannedWords    []string
	APIURL         string
}

// DefaultSnapshot is used until a setting stream emits its first value.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Provider:       ProviderStreamElements,
		StreamElements: StreamElements{Voice: ""},
		AmazonPolly:    AmazonPolly{Voice: "", PoolID: "", Region: ""},
		Device:         "",
		Volume:         defaultVolume,
		BannedWords:    nil,
		APIURL:         "",
	}
}

func (s Snapshot) clone() Snapshot {
	s.BannedWords = slices.Clone(s.BannedWords)

	return s
}

// Keys lists every setting key in the order the holder subscribes to them.
func Keys() []string {
	return []string{
		KeyProvider,
		KeyVolume,
		KeyDevice,
		KeyAPIURL,
		KeyBannedWords,
		KeyStreamElements,
		KeyAmazonPolly,
	}
}

// apply decodes raw into the field that key owns. Other fields are untouched,
// and so is the owned field when raw does not decode.
func (s *Snapshot) apply(key string, raw []byte) error {
	var err error

	switch key {
	case KeyProvider:
		err = decodeInto(raw, &s.Provider)
	case KeyVolume:
		err = decodeInto(raw, &s.Volume)
	case KeyDevice:
		err = decodeInto(raw, &s.Device)
	case KeyAPIURL:
		err = decodeInto(raw, &s.APIURL)
	case KeyBannedWords:
		err = decodeInto(raw, &s.BannedWords)
	case KeyStreamElements:
		err = decodeInto(raw, &s.StreamElements)
	case KeyAmazonPolly:
		err = decodeInto(raw, &s.AmazonPolly)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	if err != nil {
		return fmt.Errorf("failed to decode setting %q: %w", key, err)
	}

	return nil
}

func decodeInto[T any](raw []byte, dst *T) error {
	var value T

	err := json.Unmarshal(raw, &value)
	if err != nil {
		return err
	}

	*dst = value

	return nil
}
