package auditors

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/providers/aws/common"
)

// Env is what every AWS auditor needs to reach the account: the loaded
// profile, a way to build region-scoped clients and a clock.
type Env struct {
	Profile  *common.ProfileConfig
	Provider common.AWSClientProvider
	Factory  ClientFactory
	Now      func() time.Time

	cache map[string]*Clients
}

// NewEnv returns an Env backed by the real SDK clients.
func NewEnv(provider common.AWSClientProvider, profile *common.ProfileConfig) *Env {
	return &Env{
		Profile:  profile,
		Provider: provider,
		Factory:  NewClients,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Clients returns the clients for region, building them on first use.
// An empty region means the profile's home region.
func (e *Env) Clients(region string) *Clients {
	if region == "" && e.Profile != nil {
		region = e.Profile.Region
	}
	if c, ok := e.cache[region]; ok {
		return c
	}

	var cfg aws.Config
	switch {
	case e.Provider != nil && e.Profile != nil:
		cfg = e.Provider.ConfigForRegion(e.Profile, region)
	case e.Profile != nil:
		cfg = e.Profile.Config
		cfg.Region = region
	default:
		cfg = aws.Config{Region: region}
	}

	c := e.Factory(cfg)
	if e.cache == nil {
		e.cache = make(map[string]*Clients)
	}
	e.cache[region] = c
	return c
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}
