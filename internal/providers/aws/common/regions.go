package common

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/rs/zerolog"
)

// ResolveRegions decides which regions a run visits.
//
//   - explicit non-empty: returned unchanged, without validation.
//   - otherwise: the regions enabled for the account (EC2 DescribeRegions
//     with AllRegions=false), sorted.
//   - on any discovery failure: a single-element list holding fallback.
//
// Discovery failures are logged, never returned.
func ResolveRegions(ctx context.Context, client EC2RegionClient, explicit []string, fallback string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	if fallback == "" {
		fallback = DefaultFallbackRegion
	}

	regions, err := DiscoverRegions(ctx, client)
	if err == nil && len(regions) == 0 {
		err = fmt.Errorf("no enabled regions returned")
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("fallback", fallback).
			Msg("region discovery failed, using fallback region")
		return []string{fallback}
	}
	return regions
}

// DiscoverRegions returns every region the account has enabled, sorted.
func DiscoverRegions(ctx context.Context, client EC2RegionClient) ([]string, error) {
	if client == nil {
		return nil, fmt.Errorf("describe regions: no EC2 client")
	}
	out, err := client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
		// AllRegions false returns only regions the account has opted into.
		AllRegions: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("describe regions: %w", err)
	}

	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if name := aws.ToString(r.RegionName); name != "" {
			regions = append(regions, name)
		}
	}
	sort.Strings(regions)
	return regions, nil
}
