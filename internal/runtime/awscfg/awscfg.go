// Package awscfg loads the aws.Config shared by the SQS queue client and the
// SNS event stream publisher.
package awscfg

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// Settings is the subset of configuration needed to build an aws.Config.
type Settings interface {
	GetAWSRegion() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// Load resolves credentials and region through the default chain, applying
// explicit settings on top. A custom endpoint (LocalStack) becomes BaseEndpoint.
func Load(ctx context.Context, s Settings) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if s != nil {
		if region := s.GetAWSRegion(); region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		if key, secret := s.GetAWSAccessKeyID(), s.GetAWSSecretAccessKey(); key != "" && secret != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(StaticCredentials(key, secret)))
		}
	}

	cfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if s == nil {
		return cfg, nil
	}

	// the loader may ignore options when mocked
	if region := s.GetAWSRegion(); region != "" {
		cfg.Region = region
	}
	if endpoint := s.GetAWSEndpoint(); endpoint != "" {
		if _, err := url.Parse(endpoint); err != nil {
			return aws.Config{}, fmt.Errorf("failed to parse AWS endpoint: %w", err)
		}
		cfg.BaseEndpoint = aws.String(endpoint)
	}
	return cfg, nil
}

// StaticCredentials returns a provider for fixed keys.
func StaticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}

// HasCustomEndpoint reports whether cfg targets a non-default endpoint.
func HasCustomEndpoint(cfg aws.Config) bool {
	return cfg.BaseEndpoint != nil && *cfg.BaseEndpoint != ""
}
