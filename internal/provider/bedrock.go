// Bedrock request signing (AWS SigV4).
//
// Bedrock does not take API-key headers; requests are signed with the
// standard AWS credential chain instead. The signer satisfies BodySigner,
// which the HTTP provider prefers over plain header auth when present.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// BodySigner signs a request over its full payload. Strategies that need
// the body hash (SigV4) implement this instead of PrepareHeaders.
type BodySigner interface {
	SignRequest(ctx context.Context, req *http.Request, body []byte) error
}

// BedrockAuth signs outgoing requests with AWS SigV4 for the bedrock
// service.
type BedrockAuth struct {
	region string
	creds  aws.CredentialsProvider
	signer *v4.Signer
}

// NewBedrockAuth resolves the AWS credential chain once at startup.
func NewBedrockAuth(ctx context.Context, region string) (*BedrockAuth, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock auth: failed to load AWS config: %w", err)
	}
	return &BedrockAuth{
		region: region,
		creds:  cfg.Credentials,
		signer: v4.NewSigner(),
	}, nil
}

// PrepareHeaders is a no-op; Bedrock signing happens in SignRequest.
func (b *BedrockAuth) PrepareHeaders(_ *http.Request) error { return nil }

// SignRequest applies SigV4 over the payload.
func (b *BedrockAuth) SignRequest(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := b.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("bedrock auth: failed to retrieve credentials: %w", err)
	}
	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	req.Header.Set("Content-Type", "application/json")
	if err := b.signer.SignHTTP(ctx, creds, req, payloadHash, "bedrock", b.region, time.Now()); err != nil {
		return fmt.Errorf("bedrock auth: signing failed: %w", err)
	}
	return nil
}

// IsConfigured reports whether a credential chain was resolved.
func (b *BedrockAuth) IsConfigured() bool { return b != nil && b.creds != nil }
