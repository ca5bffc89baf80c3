package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/book-expert/stream-tts/internal/settings"
)

// Polly synthesis parameters.
const (
	pollySampleRate         = "22050"
	cognitoCredentialSource = "CognitoIdentityPool"
)

var (
	// ErrRegionEmpty indicates that no AWS region was configured for Amazon Polly.
	ErrRegionEmpty = errors.New("amazon polly region cannot be empty")
	// ErrNoCredentials indicates that Cognito returned an identity without credentials.
	ErrNoCredentials = errors.New("cognito returned no credentials")
)

// AWSSigner presigns Polly SynthesizeSpeech requests with credentials from an
// unauthenticated Cognito identity pool.
type AWSSigner struct {
	mu          sync.Mutex
	credentials map[string]*aws.CredentialsCache
}

// NewAWSSigner creates a signer. Credentials are cached per pool and region.
func NewAWSSigner() *AWSSigner {
	return &AWSSigner{
		mu:          sync.Mutex{},
		credentials: make(map[string]*aws.CredentialsCache),
	}
}

// SignSynthesizeURL returns a presigned GET URL producing mp3 audio for text.
func (s *AWSSigner) SignSynthesizeURL(ctx context.Context, cfg settings.AmazonPolly, text string) (string, error) {
	if cfg.Region == "" {
		return "", ErrRegionEmpty
	}

	client := polly.New(polly.Options{
		Region:      cfg.Region,
		Credentials: s.credentialsFor(cfg),
	})

	presigned, err := polly.NewPresignClient(client).PresignSynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		OutputFormat: types.OutputFormatMp3,
		SampleRate:   aws.String(pollySampleRate),
		Text:         aws.String(text),
		TextType:     types.TextTypeText,
		VoiceId:      types.VoiceId(cfg.Voice),
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign synthesize speech request: %w", err)
	}

	return presigned.URL, nil
}

func (s *AWSSigner) credentialsFor(cfg settings.AmazonPolly) *aws.CredentialsCache {
	key := cfg.Region + "|" + cfg.PoolID

	s.mu.Lock()
	defer s.mu.Unlock()

	cache, ok := s.credentials[key]
	if !ok {
		cache = aws.NewCredentialsCache(&cognitoProvider{region: cfg.Region, poolID: cfg.PoolID})
		s.credentials[key] = cache
	}

	return cache
}

// cognitoProvider exchanges an identity pool id for temporary AWS credentials.
type cognitoProvider struct {
	region string
	poolID string
}

func (p *cognitoProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	client := cognitoidentity.New(cognitoidentity.Options{
		Region:      p.region,
		Credentials: aws.AnonymousCredentials{},
	})

	identity, err := client.GetId(ctx, &cognitoidentity.GetIdInput{
		IdentityPoolId: aws.String(p.poolID),
	})
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("failed to get cognito identity for pool '%s': %w", p.poolID, err)
	}

	out, err := client.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: identity.IdentityId,
	})
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("failed to get credentials for identity: %w", err)
	}

	if out.Credentials == nil {
		return aws.Credentials{}, ErrNoCredentials
	}

	return aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          cognitoCredentialSource,
		CanExpire:       out.Credentials.Expiration != nil,
		Expires:         aws.ToTime(out.Credentials.Expiration),
	}, nil
}
