package auditors

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/baseline"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

// EC2TypeDriftID is the auditor identifier used in reports and policy files.
const EC2TypeDriftID = "ec2-type-drift"

// DefaultTypeBaselinePath is where the drift auditor keeps its state.
const DefaultTypeBaselinePath = "instance_type_baseline.json"

// EC2TypeDrift reports instances whose type differs from the type recorded
// in the baseline on the previous run. Instances absent from the baseline
// are recorded but never flagged.
type EC2TypeDrift struct {
	env     *Env
	filters Filters
	base    *baseline.Baseline

	mu      sync.Mutex
	current *baseline.Baseline
}

// NewEC2TypeDrift returns the drift auditor comparing against base.
func NewEC2TypeDrift(env *Env, base *baseline.Baseline, filters Filters) *EC2TypeDrift {
	next := &baseline.Baseline{Entries: make(map[string]string, len(base.Entries))}
	for k, v := range base.Entries {
		next.Entries[k] = v
	}
	return &EC2TypeDrift{env: env, filters: filters, base: base, current: next}
}

// Info implements engine.Auditor.
func (a *EC2TypeDrift) Info() engine.Info {
	return engine.Info{
		ID:           EC2TypeDriftID,
		Scope:        engine.Regional,
		Params:       models.NewRecord("baseline_entries", len(a.base.Entries), "name_filter", a.filters.NameContains),
		Columns:      []string{"region", "instance_id", "name", "state", "previous_type", "current_type"},
		EmptyMessage: "No instance type changes detected.",
	}
}

// trackedStates are the instance states whose type is recorded. A resize
// requires a stop, so stopped instances must keep their entry.
var trackedStates = []ec2types.InstanceStateName{
	ec2types.InstanceStateNamePending,
	ec2types.InstanceStateNameRunning,
	ec2types.InstanceStateNameShuttingDown,
	ec2types.InstanceStateNameStopping,
	ec2types.InstanceStateNameStopped,
}

// Collect implements engine.Auditor. Every listed instance is recorded in
// the next baseline; the filters only narrow the candidates.
func (a *EC2TypeDrift) Collect(ctx context.Context, region string) ([]*engine.Candidate, error) {
	instances, err := listInstances(ctx, a.env.Clients(region).EC2, trackedStates...)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(instances))
	var candidates []*engine.Candidate
	for _, inst := range instances {
		id := aws.ToString(inst.InstanceId)
		currentType := string(inst.InstanceType)
		seen[id] = currentType

		tags := tagsFromEC2(inst.Tags)
		if !a.filters.Match(id, tags) {
			continue
		}

		previous, known := a.base.Lookup(baseline.Key(region, id))
		changed := known && previous != currentType
		reason := ""
		if changed {
			reason = "type changed " + previous + " -> " + currentType
		}

		candidates = append(candidates, &engine.Candidate{
			ID:     id,
			Region: region,
			Record: models.NewRecord(
				"region", region,
				"instance_id", id,
				"name", tags["Name"],
				"previous_type", previous,
				"current_type", currentType,
				"state", instanceState(inst),
			),
			Verdict: classify.Classify([]classify.Check{classify.Condition("type_changed", changed, reason)}, classify.All),
		})
	}

	a.mu.Lock()
	a.current.ReplaceRegion(region, seen)
	a.mu.Unlock()
	return candidates, nil
}

// Next returns the baseline to persist after the run: the previous entries
// with every successfully listed region replaced by what was observed.
func (a *EC2TypeDrift) Next() *baseline.Baseline {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func instanceState(inst ec2types.Instance) string {
	if inst.State == nil {
		return ""
	}
	return string(inst.State.Name)
}
