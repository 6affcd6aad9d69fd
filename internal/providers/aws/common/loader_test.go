package common

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ── mocks ─────────────────────────────────────────────────────────────────────

type mockSTS struct {
	account string
	err     error
}

func (m *mockSTS) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String(m.account)}, nil
}

type mockRegions struct {
	regions []string
	err     error
	calls   int
}

func (m *mockRegions) DescribeRegions(_ context.Context, in *ec2.DescribeRegionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	m.calls++
	if aws.ToBool(in.AllRegions) {
		return nil, errors.New("AllRegions must be false")
	}
	if m.err != nil {
		return nil, m.err
	}
	out := &ec2.DescribeRegionsOutput{}
	for _, r := range m.regions {
		out.Regions = append(out.Regions, ec2types.Region{RegionName: aws.String(r)})
	}
	return out, nil
}

func stubProvider(cs *ClientSet, cfg aws.Config, settings Settings) (*DefaultAWSClientProvider, *int) {
	var retryerBuilt int
	p := NewDefaultAWSClientProviderWithFactory(func(aws.Config) *ClientSet { return cs }, settings)
	p.loadConfig = func(_ context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				return aws.Config{}, err
			}
		}
		if lo.Retryer != nil && lo.Retryer() != nil {
			retryerBuilt++
		}
		if lo.SharedConfigProfile == "broken" {
			return aws.Config{}, errors.New("profile not found")
		}
		return cfg, nil
	}
	return p, &retryerBuilt
}

// ── ResolveRegions ────────────────────────────────────────────────────────────

func TestResolveRegions_ExplicitReturnedUnchanged(t *testing.T) {
	client := &mockRegions{regions: []string{"us-east-1"}}
	explicit := []string{"zz-nowhere-9", "eu-west-1"}

	got := ResolveRegions(context.Background(), client, explicit, "us-east-1")
	if !reflect.DeepEqual(got, explicit) {
		t.Errorf("got %v, want %v", got, explicit)
	}
	if client.calls != 0 {
		t.Errorf("discovery must not run when regions are explicit; calls=%d", client.calls)
	}
}

func TestResolveRegions_DiscoveredSorted(t *testing.T) {
	client := &mockRegions{regions: []string{"us-west-2", "ap-south-1", "eu-west-1"}}
	got := ResolveRegions(context.Background(), client, nil, "us-east-1")
	want := []string{"ap-south-1", "eu-west-1", "us-west-2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolveRegions_FallbackOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		client   EC2RegionClient
		fallback string
		want     []string
	}{
		{"api error", &mockRegions{err: errors.New("UnauthorizedOperation")}, "", []string{"us-east-1"}},
		{"empty answer", &mockRegions{}, "eu-central-1", []string{"eu-central-1"}},
		{"no client", nil, "", []string{"us-east-1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveRegions(context.Background(), tc.client, nil, tc.fallback)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

// ── LoadProfile ───────────────────────────────────────────────────────────────

func TestLoadProfile_PopulatesProfileConfig(t *testing.T) {
	cs := &ClientSet{STS: &mockSTS{account: "123456789012"}, EC2: &mockRegions{}}
	p, built := stubProvider(cs, aws.Config{}, Settings{FallbackRegion: "eu-west-1", MaxAttempts: 5, MaxBackoff: time.Second})

	pc, err := p.LoadProfile(context.Background(), "")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if pc.ProfileName != "default" {
		t.Errorf("ProfileName = %q, want default", pc.ProfileName)
	}
	if pc.AccountID != "123456789012" {
		t.Errorf("AccountID = %q", pc.AccountID)
	}
	if pc.Region != "eu-west-1" {
		t.Errorf("empty profile region must fall back; got %q", pc.Region)
	}
	if *built != 1 {
		t.Errorf("expected the retryer option to be supplied once, got %d", *built)
	}
}

func TestLoadProfile_Errors(t *testing.T) {
	cs := &ClientSet{STS: &mockSTS{err: errors.New("ExpiredToken")}}
	p, _ := stubProvider(cs, aws.Config{Region: "us-west-2"}, Settings{})

	if _, err := p.LoadProfile(context.Background(), "broken"); err == nil {
		t.Error("expected error for unloadable profile")
	}
	if _, err := p.LoadProfile(context.Background(), "prod"); err == nil {
		t.Error("expected error when STS fails")
	}
}

func TestLoadAllProfiles_SkipsUnloadable(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".aws"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(home, ".aws", "credentials"), "[default]\naws_access_key_id = x\n\n[broken]\naws_access_key_id = y\n")
	writeFile(t, filepath.Join(home, ".aws", "config"), "[profile prod]\nregion = us-west-2\n")

	cs := &ClientSet{STS: &mockSTS{account: "123456789012"}}
	p, _ := stubProvider(cs, aws.Config{Region: "us-east-1"}, Settings{})

	profiles, err := p.LoadAllProfiles(context.Background())
	if err != nil {
		t.Fatalf("LoadAllProfiles: %v", err)
	}
	var names []string
	for _, pc := range profiles {
		names = append(names, pc.ProfileName)
	}
	if want := []string{"default", "prod"}; !reflect.DeepEqual(names, want) {
		t.Errorf("profiles = %v, want %v", names, want)
	}
}

func TestConfigForRegion(t *testing.T) {
	p := NewDefaultAWSClientProviderWithFactory(NewClientSet, Settings{})
	pc := &ProfileConfig{Config: aws.Config{Region: "us-east-1"}}
	if got := p.ConfigForRegion(pc, "ap-south-1").Region; got != "ap-south-1" {
		t.Errorf("region = %q", got)
	}
	if pc.Config.Region != "us-east-1" {
		t.Error("ConfigForRegion must not mutate the profile config")
	}
}

func TestRetryerHonoursMaxAttempts(t *testing.T) {
	p := NewDefaultAWSClientProviderWithFactory(NewClientSet, Settings{MaxAttempts: 7})
	if got := p.retryer().MaxAttempts(); got != 7 {
		t.Errorf("MaxAttempts = %d, want 7", got)
	}
}

// ── profile discovery ─────────────────────────────────────────────────────────

func TestDiscoverProfileNames(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials")
	cfg := filepath.Join(dir, "config")

	writeFile(t, creds, "[default]\naws_access_key_id = x\n\n[prod]\naws_access_key_id = y\n")
	writeFile(t, cfg, "[default]\nregion = us-east-1\n\n[profile staging]\nregion = eu-west-1\n\n"+
		"[profile prod]\nregion = us-west-2\n\n[sso-session corp]\nsso_region = us-east-1\n")

	got, err := DiscoverProfileNames(creds, cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"default", "prod", "staging"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDiscoverProfileNames_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	got, err := DiscoverProfileNames(filepath.Join(dir, "nope"), filepath.Join(dir, "nada"))
	if err != nil {
		t.Fatalf("missing files must not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
