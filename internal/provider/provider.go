// Package provider turns request text and the active settings into a
// provider-specific playback request.
package provider

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/book-expert/stream-tts/internal/core"
	"github.com/book-expert/stream-tts/internal/settings"
)

// Input is what a builder receives for one request.
type Input struct {
	Text      string
	CharLimit int
	Settings  settings.Snapshot
}

// Request is the backend-agnostic result of a build.
type Request struct {
	// AudioText is the truncated text that is actually spoken.
	AudioText string
	// URL is the endpoint the playback engine fetches audio from.
	URL    string
	Params []core.Param
}

// Builder is one provider variant.
type Builder interface {
	Tag() string
	Build(ctx context.Context, in Input) (Request, error)
}

// Truncate keeps the first limit characters of text. A non-positive limit
// leaves text unchanged.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)

	return string(runes[:limit])
}

// Registry selects a builder by its provider tag.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry registers every builder under its tag. Later builders replace
// earlier ones with the same tag.
func NewRegistry(builders ...Builder) *Registry {
	registry := &Registry{builders: make(map[string]Builder, len(builders))}

	for _, builder := range builders {
		registry.builders[builder.Tag()] = builder
	}

	return registry
}

// Lookup returns the builder registered for tag.
func (r *Registry) Lookup(tag string) (Builder, error) {
	builder, ok := r.builders[tag]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported tts provider %q", core.ErrConfiguration, tag)
	}

	return builder, nil
}
