// Package cwmetrics reduces a CloudWatch metric over a lookback window to a
// single number.
package cwmetrics

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultLookback is used when Window.Lookback is zero.
	DefaultLookback = 7 * 24 * time.Hour
	// DefaultPeriod is used when Window.Period is zero.
	DefaultPeriod = time.Hour
)

// CloudWatchClient is the subset of CloudWatch operations used here.
type CloudWatchClient interface {
	GetMetricStatistics(
		ctx context.Context,
		params *cloudwatch.GetMetricStatisticsInput,
		optFns ...func(*cloudwatch.Options),
	) (*cloudwatch.GetMetricStatisticsOutput, error)
}

// Stat selects how datapoints are reduced.
type Stat string

const (
	// Sum adds the Sum of every datapoint.
	Sum Stat = "Sum"
	// Average is the arithmetic mean of the datapoint Averages.
	Average Stat = "Average"
	// Maximum is the largest datapoint Maximum.
	Maximum Stat = "Maximum"
)

// Window is the time range and granularity of every query.
type Window struct {
	Lookback time.Duration
	Period   time.Duration
}

// Days returns a window of n days at the given period.
func Days(n int, period time.Duration) Window {
	return Window{Lookback: time.Duration(n) * 24 * time.Hour, Period: period}
}

// Bounds returns [now-Lookback, now].
func (w Window) Bounds(now time.Time) (start, end time.Time) {
	lookback := w.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return now.Add(-lookback), now
}

func (w Window) periodSeconds() int32 {
	p := w.Period
	if p <= 0 {
		p = DefaultPeriod
	}
	return int32(p / time.Second)
}

// Query identifies one metric.
type Query struct {
	Namespace  string
	MetricName string
	Dimensions map[string]string
	Stat       Stat
}

// Observation is a reduced metric value. Present is false when CloudWatch
// returned no datapoints or the call failed; Value is 0 in that case.
type Observation struct {
	Value   float64
	Present bool
}

// Fetcher issues one GetMetricStatistics call per Fetch.
type Fetcher struct {
	client CloudWatchClient
	window Window
	now    func() time.Time
}

// NewFetcher returns a Fetcher for the given window.
func NewFetcher(client CloudWatchClient, window Window) *Fetcher {
	return &Fetcher{client: client, window: window, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock used to compute window bounds.
func (f *Fetcher) WithClock(now func() time.Time) *Fetcher {
	f.now = now
	return f
}

// Window returns the fetcher's window.
func (f *Fetcher) Window() Window {
	return f.window
}

// Fetch reduces q over the window. It never returns an error: failures are
// logged at debug level and reported as a missing observation.
func (f *Fetcher) Fetch(ctx context.Context, q Query) Observation {
	start, end := f.window.Bounds(f.now())

	out, err := f.client.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(q.Namespace),
		MetricName: aws.String(q.MetricName),
		Dimensions: dimensions(q.Dimensions),
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(f.window.periodSeconds()),
		Statistics: []cwtypes.Statistic{cwtypes.Statistic(q.Stat)},
	})
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).
			Str("namespace", q.Namespace).
			Str("metric", q.MetricName).
			Msg("metric query failed")
		return Observation{}
	}
	return reduce(out.Datapoints, q.Stat)
}

// Value is Fetch without the presence flag.
func (f *Fetcher) Value(ctx context.Context, q Query) float64 {
	return f.Fetch(ctx, q).Value
}

func reduce(points []cwtypes.Datapoint, stat Stat) Observation {
	var (
		total float64
		count int
		peak  float64
	)
	for _, dp := range points {
		var v *float64
		switch stat {
		case Sum:
			v = dp.Sum
		case Average:
			v = dp.Average
		case Maximum:
			v = dp.Maximum
		}
		if v == nil {
			continue
		}
		if count == 0 || *v > peak {
			peak = *v
		}
		total += *v
		count++
	}
	if count == 0 {
		return Observation{}
	}

	switch stat {
	case Average:
		return Observation{Value: total / float64(count), Present: true}
	case Maximum:
		return Observation{Value: peak, Present: true}
	default:
		return Observation{Value: total, Present: true}
	}
}

// dimensions converts a name/value map to SDK dimensions sorted by name.
func dimensions(m map[string]string) []cwtypes.Dimension {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]cwtypes.Dimension, 0, len(names))
	for _, n := range names {
		out = append(out, cwtypes.Dimension{Name: aws.String(n), Value: aws.String(m[n])})
	}
	return out
}
