// Package tlssweep checks TLS endpoints concurrently and reports the
// certificate status of each one. Only certificates close to expiry are
// flagged; endpoints that fail the handshake are reported as ERROR.
package tlssweep

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

// ExpiryID is the auditor identifier used in reports and policy files.
const ExpiryID = "tls-expiry"

// Status values reported per endpoint.
const (
	StatusOK       = "OK"
	StatusExpiring = "EXPIRING"
	StatusError    = "ERROR"
)

// Config holds the sweep settings.
type Config struct {
	Endpoints []Endpoint
	Workers   int
	Timeout   time.Duration
	WarnDays  float64
	// RootCAs overrides the system roots used for chain validation.
	RootCAs *x509.CertPool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Workers: 20, Timeout: 6 * time.Second, WarnDays: 30}
}

// Sweeper is a report-only auditor over a fixed endpoint list.
type Sweeper struct {
	cfg Config
	now func() time.Time
}

// NewSweeper returns a sweeper for cfg.
func NewSweeper(cfg Config) *Sweeper {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Sweeper{cfg: cfg, now: time.Now}
}

// Info implements engine.Auditor.
func (s *Sweeper) Info() engine.Info {
	return engine.Info{
		ID:    ExpiryID,
		Scope: engine.Global,
		Params: models.NewRecord(
			"endpoints", len(s.cfg.Endpoints),
			"workers", s.cfg.Workers,
			"timeout_seconds", s.cfg.Timeout.Seconds(),
			"warn_days", s.cfg.WarnDays,
		),
		Columns:      []string{"endpoint", "status", "days_remaining", "not_after", "common_name", "issuer", "error"},
		EmptyMessage: "No endpoints checked.",
		ReportAll:    true,
	}
}

// Collect implements engine.Auditor. Endpoints are checked concurrently,
// at most Workers at a time; results keep the input order.
func (s *Sweeper) Collect(ctx context.Context, _ string) ([]*engine.Candidate, error) {
	candidates := make([]*engine.Candidate, len(s.cfg.Endpoints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, ep := range s.cfg.Endpoints {
		g.Go(func() error {
			candidates[i] = s.scan(gctx, ep)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// scan checks one endpoint. Handshake failures become unflagged ERROR
// records; only EXPIRING certificates are flagged.
func (s *Sweeper) scan(ctx context.Context, ep Endpoint) *engine.Candidate {
	log := zerolog.Ctx(ctx).With().Str("endpoint", ep.Raw).Logger()

	state, err := s.handshake(ctx, ep)
	if err != nil {
		log.Warn().Err(err).Msg("handshake failed")
		return &engine.Candidate{
			ID: ep.Raw,
			Record: models.NewRecord(
				"endpoint", ep.Raw,
				"host", ep.Host,
				"port", ep.Port,
				"status", StatusError,
				"error", err.Error(),
			),
		}
	}

	leaf := state.PeerCertificates[0]
	daysLeft := leaf.NotAfter.Sub(s.now()).Hours() / 24
	status := StatusOK
	if daysLeft <= s.cfg.WarnDays {
		status = StatusExpiring
	}

	return &engine.Candidate{
		ID: ep.Raw,
		Record: models.NewRecord(
			"endpoint", ep.Raw,
			"host", ep.Host,
			"port", ep.Port,
			"status", status,
			"days_remaining", math.Round(daysLeft*10)/10,
			"not_before", leaf.NotBefore.UTC().Format(time.RFC3339),
			"not_after", leaf.NotAfter.UTC().Format(time.RFC3339),
			"common_name", leaf.Subject.CommonName,
			"issuer", leaf.Issuer.String(),
			"sans", leaf.DNSNames,
			"protocol", tls.VersionName(state.Version),
			"cipher", tls.CipherSuiteName(state.CipherSuite),
			"error", nil,
		),
		Verdict: classify.Classify([]classify.Check{
			{Name: "days_remaining", Observed: daysLeft, Threshold: s.cfg.WarnDays, Op: classify.AtMost},
		}, classify.Any),
	}
}

// handshake dials ep and completes a verified TLS handshake using the host
// as SNI name.
func (s *Sweeper) handshake(ctx context.Context, ep Endpoint) (tls.ConnectionState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.cfg.Timeout},
		Config: &tls.Config{
			ServerName: strings.TrimSuffix(ep.Host, "."),
			RootCAs:    s.cfg.RootCAs,
			MinVersion: tls.VersionTLS10,
		},
	}
	conn, err := d.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return tls.ConnectionState{}, err
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return tls.ConnectionState{}, fmt.Errorf("no peer certificate")
	}
	return state, nil
}
