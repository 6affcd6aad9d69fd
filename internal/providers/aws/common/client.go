package common

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// DefaultFallbackRegion is used when a profile has no region configured and
// when region discovery fails.
const DefaultFallbackRegion = "us-east-1"

// ProfileConfig is a resolved AWS profile with its SDK configuration and
// initialised home-region clients. It is the unit passed from the loader to
// every auditor.
type ProfileConfig struct {
	// ProfileName is the name from ~/.aws/credentials or "default".
	ProfileName string

	// AccountID is the resolved AWS account ID for this profile (via STS).
	AccountID string

	// Region is the home region for this profile configuration.
	Region string

	// Config is the fully loaded AWS SDK v2 configuration, including the
	// retryer built from Settings.
	Config aws.Config

	// Clients holds the STS and region-discovery clients scoped to Region.
	Clients *ClientSet
}

// Settings tunes how profiles are loaded.
type Settings struct {
	// FallbackRegion replaces an empty profile region and is the single
	// region returned when discovery fails. Defaults to DefaultFallbackRegion.
	FallbackRegion string

	// MaxAttempts is the SDK retry budget per API call, including the first
	// attempt. Zero keeps the SDK default.
	MaxAttempts int

	// MaxBackoff caps the exponential backoff between retries. Zero keeps the
	// SDK default.
	MaxBackoff time.Duration
}

func (s Settings) fallbackRegion() string {
	if s.FallbackRegion == "" {
		return DefaultFallbackRegion
	}
	return s.FallbackRegion
}

// AWSClientProvider loads AWS configurations and resolves the regions an
// auditor should visit. It is the sole entry point for AWS credential and
// region management.
type AWSClientProvider interface {
	// LoadProfile returns a ProfileConfig for the named profile.
	// Pass an empty string to load the default profile.
	LoadProfile(ctx context.Context, profile string) (*ProfileConfig, error)

	// LoadAllProfiles returns ProfileConfigs for every profile found in
	// ~/.aws/credentials and ~/.aws/config.
	LoadAllProfiles(ctx context.Context) ([]*ProfileConfig, error)

	// ResolveRegions returns explicit unchanged when non-empty, otherwise the
	// regions enabled for the account, otherwise the fallback region.
	ResolveRegions(ctx context.Context, cfg *ProfileConfig, explicit []string) []string

	// ConfigForRegion clones cfg with the target region set.
	ConfigForRegion(cfg *ProfileConfig, region string) aws.Config
}
