package provider

import (
	"context"

	"github.com/book-expert/stream-tts/internal/core"
	"github.com/book-expert/stream-tts/internal/settings"
)

// StreamElements passes the voice and text as query parameters to the
// configured API URL.
type StreamElements struct{}

// NewStreamElements creates the stream-elements builder.
func NewStreamElements() *StreamElements {
	return &StreamElements{}
}

// Tag returns the provider tag.
func (b *StreamElements) Tag() string {
	return settings.ProviderStreamElements
}

// Build never fails: the engine reports a missing voice itself.
func (b *StreamElements) Build(_ context.Context, in Input) (Request, error) {
	audioText := Truncate(in.Text, in.CharLimit)

	return Request{
		AudioText: audioText,
		URL:       in.Settings.APIURL,
		Params: []core.Param{
			{Key: "voice", Value: in.Settings.StreamElements.Voice},
			{Key: "text", Value: audioText},
		},
	}, nil
}
