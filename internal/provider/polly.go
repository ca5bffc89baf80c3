package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/book-expert/stream-tts/internal/core"
	"github.com/book-expert/stream-tts/internal/settings"
)

const errFmtMissingPoolID = "%w: no identity pool id configured for Amazon Polly"

// URLSigner produces a presigned synthesis URL for the given text.
type URLSigner interface {
	SignSynthesizeURL(ctx context.Context, cfg settings.AmazonPolly, text string) (string, error)
}

// Polly resolves a presigned SynthesizeSpeech URL that the playback engine
// downloads directly.
type Polly struct {
	signer URLSigner
}

// NewPolly creates the Amazon Polly builder.
func NewPolly(signer URLSigner) *Polly {
	return &Polly{signer: signer}
}

// Tag returns the provider tag.
func (b *Polly) Tag() string {
	return settings.ProviderAmazonPolly
}

// Build fails with core.ErrConfiguration when no pool id is set, before any
// network call, and with core.ErrProvider when signing fails.
func (b *Polly) Build(ctx context.Context, in Input) (Request, error) {
	cfg := in.Settings.AmazonPolly
	if strings.TrimSpace(cfg.PoolID) == "" {
		return Request{}, fmt.Errorf(errFmtMissingPoolID, core.ErrConfiguration)
	}

	audioText := Truncate(in.Text, in.CharLimit)

	url, err := b.signer.SignSynthesizeURL(ctx, cfg, audioText)
	if err != nil {
		return Request{}, fmt.Errorf("%w: failed to get Amazon Polly url: %w", core.ErrProvider, err)
	}

	return Request{
		AudioText: audioText,
		URL:       url,
		Params:    []core.Param{},
	}, nil
}
