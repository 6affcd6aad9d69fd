package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
	"gopkg.in/ini.v1"
)

// DefaultAWSClientProvider is the production implementation of AWSClientProvider.
// It reads credentials from the standard AWS shared config and credentials files
// (~/.aws/config and ~/.aws/credentials) using the AWS SDK v2.
//
// Inject a custom ClientFactory via NewDefaultAWSClientProviderWithFactory to
// replace real SDK clients with mocks in unit tests.
type DefaultAWSClientProvider struct {
	factory  ClientFactory
	settings Settings
	// loadConfig is awsconfig.LoadDefaultConfig outside tests.
	loadConfig func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error)
}

// NewDefaultAWSClientProvider returns a provider backed by the real AWS SDK.
func NewDefaultAWSClientProvider(settings Settings) *DefaultAWSClientProvider {
	return NewDefaultAWSClientProviderWithFactory(NewClientSet, settings)
}

// NewDefaultAWSClientProviderWithFactory returns a provider that uses f to
// create its ClientSet. Pass a mock factory in tests.
func NewDefaultAWSClientProviderWithFactory(f ClientFactory, settings Settings) *DefaultAWSClientProvider {
	return &DefaultAWSClientProvider{
		factory:    f,
		settings:   settings,
		loadConfig: awsconfig.LoadDefaultConfig,
	}
}

// ---------------------------------------------------------------------------
// AWSClientProvider implementation
// ---------------------------------------------------------------------------

// LoadProfile loads the AWS SDK config for the named profile and returns a
// fully populated ProfileConfig including the resolved account ID and
// initialised home-region clients.
//
// Pass an empty string to load the default profile.
func (p *DefaultAWSClientProvider) LoadProfile(ctx context.Context, profile string) (*ProfileConfig, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(p.retryer),
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := p.loadConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS profile %q: %w", profileDisplayName(profile), err)
	}

	if cfg.Region == "" {
		cfg.Region = p.settings.fallbackRegion()
	}

	clients := p.factory(cfg)

	accountID, err := resolveAccountID(ctx, clients.STS)
	if err != nil {
		return nil, fmt.Errorf("resolve account ID for profile %q: %w", profileDisplayName(profile), err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("profile", profileDisplayName(profile)).
		Str("account", accountID).
		Str("region", cfg.Region).
		Msg("profile loaded")

	return &ProfileConfig{
		ProfileName: profileDisplayName(profile),
		AccountID:   accountID,
		Region:      cfg.Region,
		Config:      cfg,
		Clients:     clients,
	}, nil
}

// LoadAllProfiles discovers every profile defined in ~/.aws/credentials and
// ~/.aws/config, loads each one, and returns the successfully loaded set.
// Profiles that cannot be loaded are skipped with a warning so one bad
// profile does not block the rest.
func (p *DefaultAWSClientProvider) LoadAllProfiles(ctx context.Context) ([]*ProfileConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	names, err := DiscoverProfileNames(
		filepath.Join(home, ".aws", "credentials"),
		filepath.Join(home, ".aws", "config"),
	)
	if err != nil {
		return nil, fmt.Errorf("discover AWS profiles: %w", err)
	}

	var profiles []*ProfileConfig
	for _, name := range names {
		arg := ""
		if name != "default" {
			arg = name
		}

		pc, loadErr := p.LoadProfile(ctx, arg)
		if loadErr != nil {
			zerolog.Ctx(ctx).Warn().Err(loadErr).Str("profile", name).Msg("skipping profile")
			continue
		}
		profiles = append(profiles, pc)
	}

	return profiles, nil
}

// ResolveRegions implements AWSClientProvider using the profile's home-region
// EC2 client for discovery.
func (p *DefaultAWSClientProvider) ResolveRegions(ctx context.Context, cfg *ProfileConfig, explicit []string) []string {
	var client EC2RegionClient
	if cfg != nil && cfg.Clients != nil {
		client = cfg.Clients.EC2
	}
	return ResolveRegions(ctx, client, explicit, p.settings.fallbackRegion())
}

// ConfigForRegion returns a copy of cfg.Config with Region set to region.
func (p *DefaultAWSClientProvider) ConfigForRegion(cfg *ProfileConfig, region string) aws.Config {
	regional := cfg.Config
	regional.Region = region
	return regional
}

// retryer builds the SDK standard retryer (exponential backoff with jitter,
// throttling and transient error classification) from Settings.
func (p *DefaultAWSClientProvider) retryer() aws.Retryer {
	var r aws.Retryer = retry.NewStandard(func(o *retry.StandardOptions) {
		if p.settings.MaxAttempts > 0 {
			o.MaxAttempts = p.settings.MaxAttempts
		}
	})
	if p.settings.MaxBackoff > 0 {
		r = retry.AddWithMaxBackoffDelay(r, p.settings.MaxBackoff)
	}
	return r
}

// ---------------------------------------------------------------------------
// Package-private helpers
// ---------------------------------------------------------------------------

// profileDisplayName returns a human-readable profile identifier. An empty
// string (the default profile) is shown as "default".
func profileDisplayName(profile string) string {
	if profile == "" {
		return "default"
	}
	return profile
}

// resolveAccountID calls STS GetCallerIdentity to retrieve the numeric AWS
// account ID for the credentials currently loaded in stsClient.
func resolveAccountID(ctx context.Context, stsClient STSClient) (string, error) {
	out, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("STS GetCallerIdentity: %w", err)
	}
	if out.Account == nil {
		return "", fmt.Errorf("STS GetCallerIdentity returned nil account")
	}
	return aws.ToString(out.Account), nil
}

// DiscoverProfileNames parses the shared credentials file and the shared
// config file and returns the deduplicated profile names, credentials file
// first. Sections in the config file named "profile <name>" are reported as
// <name>. Missing files are ignored.
func DiscoverProfileNames(credentialsPath, configPath string) ([]string, error) {
	credProfiles, err := profileSections(credentialsPath, false)
	if err != nil {
		return nil, err
	}
	cfgProfiles, err := profileSections(configPath, true)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var all []string
	for _, name := range append(credProfiles, cfgProfiles...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		all = append(all, name)
	}
	return all, nil
}

// profileSections loads path as INI and returns its section names.
// When stripProfilePrefix is true the "profile " prefix used in
// ~/.aws/config is removed; "sso-session" and "services" sections are
// skipped because they are not profiles.
func profileSections(path string, stripProfilePrefix bool) ([]string, error) {
	f, err := ini.LoadSources(ini.LoadOptions{Loose: true, AllowNonUniqueSections: true}, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var names []string
	for _, section := range f.SectionStrings() {
		if section == ini.DefaultSection {
			continue
		}
		name := strings.TrimSpace(section)
		if stripProfilePrefix {
			if strings.HasPrefix(name, "sso-session ") || strings.HasPrefix(name, "services ") {
				continue
			}
			if name != "default" {
				name = strings.TrimSpace(strings.TrimPrefix(name, "profile "))
			}
		}
		names = append(names, name)
	}
	return names, nil
}
