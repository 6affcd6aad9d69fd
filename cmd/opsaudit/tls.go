package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/providers/tlssweep"
)

func newTLSCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tls",
		Short: "TLS endpoint auditors",
	}
	cmd.AddCommand(newTLSSweepCmd(a))
	return cmd
}

func newTLSSweepCmd(a *app) *cobra.Command {
	var (
		out       outputFlags
		file      string
		endpoints []string
	)
	cfg := tlssweep.DefaultConfig()

	cmd := auditorCmd(tlssweep.ExpiryID, "sweep", "Check certificate expiry of many TLS endpoints concurrently")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		eps, err := tlssweep.LoadEndpoints(file, endpoints)
		if err != nil {
			return err
		}
		if len(eps) == 0 {
			return errors.New("no endpoints: use --file or --endpoints")
		}
		cfg.Endpoints = eps
		_, err = a.execute(cmd, tlssweep.NewSweeper(cfg), engine.RunOptions{}, out)
		return err
	}

	fl := cmd.Flags()
	out.bind(fl)
	fl.BoolVar(&out.failOnFindings, "fail-expiring", false, "Alias of --fail-on-findings")
	fl.StringVar(&file, "file", "", "File with one host[:port] per line (# comments allowed)")
	fl.StringSliceVar(&endpoints, "endpoints", nil, "Additional host[:port] endpoints")
	fl.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent handshakes")
	fl.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-endpoint dial and handshake timeout")
	fl.Float64Var(&cfg.WarnDays, "warn-days", cfg.WarnDays, "Flag certificates expiring within this many days")
	markThresholds(cmd, "workers", "warn-days")
	return cmd
}
