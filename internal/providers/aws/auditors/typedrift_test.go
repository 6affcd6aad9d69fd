package auditors

import (
	"context"
	"testing"

	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/baseline"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
)

func TestEC2TypeDrift_FlagsChangedKnownInstances(t *testing.T) {
	ec2 := &mockEC2{instancePages: reservations(
		instance("i-same", "t3.micro"),
		instance("i-resized", "m5.xlarge"),
		instance("i-new", "c6g.large"),
	)}
	base := &baseline.Baseline{Entries: map[string]string{
		baseline.Key("us-east-1", "i-same"):    "t3.micro",
		baseline.Key("us-east-1", "i-resized"): "m5.large",
		baseline.Key("us-east-1", "i-gone"):    "t2.nano",
		baseline.Key("eu-west-1", "i-other"):   "t3.small",
	}}

	a := NewEC2TypeDrift(testEnv(&Clients{EC2: ec2}), base, Filters{})
	report, err := engine.NewDefaultEngine().RunAudit(context.Background(), a, engine.RunOptions{Regions: []string{"us-east-1"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"i-resized"}, resultIDs(report, "instance_id"))
	reasons, _ := report.Results[0].Get("reasons")
	assert.Equal(t, []string{"type changed m5.large -> m5.xlarge"}, reasons)

	next := a.Next()
	assert.Equal(t, map[string]string{
		"us-east-1/i-same":    "t3.micro",
		"us-east-1/i-resized": "m5.xlarge",
		"us-east-1/i-new":     "c6g.large",
		"eu-west-1/i-other":   "t3.small",
	}, next.Entries)
	assert.Equal(t, "m5.large", base.Entries["us-east-1/i-resized"], "the input baseline must not change")
}

func TestEC2TypeDrift_FailedRegionKeepsEntries(t *testing.T) {
	base := &baseline.Baseline{Entries: map[string]string{"us-east-1/i-a": "t3.micro"}}
	a := NewEC2TypeDrift(testEnv(&Clients{EC2: &mockEC2{listErr: errBoom}}), base, Filters{})

	_, err := engine.NewDefaultEngine().RunAudit(context.Background(), a, engine.RunOptions{Regions: []string{"us-east-1"}})
	require.ErrorIs(t, err, engine.ErrAllRegionsFailed)
	assert.Equal(t, "t3.micro", a.Next().Entries["us-east-1/i-a"])
}

func instanceInState(id, typ string, state ec2types.InstanceStateName) ec2types.Instance {
	inst := instance(id, typ)
	inst.State = &ec2types.InstanceState{Name: state}
	return inst
}

func runDrift(t *testing.T, base *baseline.Baseline, filters Filters, instances ...ec2types.Instance) (*EC2TypeDrift, []string) {
	t.Helper()
	a := NewEC2TypeDrift(testEnv(&Clients{EC2: &mockEC2{instancePages: reservations(instances...)}}), base, filters)
	report, err := engine.NewDefaultEngine().RunAudit(context.Background(), a, engine.RunOptions{Regions: []string{"us-east-1"}})
	require.NoError(t, err)
	return a, resultIDs(report, "instance_id")
}

func TestEC2TypeDrift_ResizeAcrossStop(t *testing.T) {
	base := &baseline.Baseline{Entries: map[string]string{"us-east-1/i-a": "m5.large"}}

	// Stopped for the resize while the audit runs.
	stopped, flagged := runDrift(t, base, Filters{}, instanceInState("i-a", "m5.large", ec2types.InstanceStateNameStopped))
	assert.Empty(t, flagged)
	assert.Equal(t, map[string]string{"us-east-1/i-a": "m5.large"}, stopped.Next().Entries)

	// Started again with the new type.
	restarted, flagged := runDrift(t, stopped.Next(), Filters{}, instance("i-a", "m5.xlarge"))
	assert.Equal(t, []string{"i-a"}, flagged)
	assert.Equal(t, "m5.xlarge", restarted.Next().Entries["us-east-1/i-a"])
}

func TestEC2TypeDrift_StoppedResizeFlagged(t *testing.T) {
	base := &baseline.Baseline{Entries: map[string]string{"us-east-1/i-a": "m5.large"}}
	_, flagged := runDrift(t, base, Filters{}, instanceInState("i-a", "m5.2xlarge", ec2types.InstanceStateNameStopped))
	assert.Equal(t, []string{"i-a"}, flagged)
}

func TestEC2TypeDrift_TerminatedInstancesDropped(t *testing.T) {
	base := &baseline.Baseline{Entries: map[string]string{"us-east-1/i-gone": "t3.micro"}}
	a, flagged := runDrift(t, base, Filters{}, instanceInState("i-gone", "t3.large", ec2types.InstanceStateNameTerminated))
	assert.Empty(t, flagged)
	assert.Empty(t, a.Next().Entries)
}

func TestEC2TypeDrift_FilteredRunKeepsOtherEntries(t *testing.T) {
	base := &baseline.Baseline{Entries: map[string]string{
		"us-east-1/i-a": "m5.large",
		"us-east-1/i-b": "t3.micro",
	}}
	a, flagged := runDrift(t, base, Filters{NameContains: "i-a"},
		instance("i-a", "m5.large"),
		instance("i-b", "t3.small"),
	)

	assert.Empty(t, flagged, "i-b is outside the filter")
	assert.Equal(t, map[string]string{
		"us-east-1/i-a": "m5.large",
		"us-east-1/i-b": "t3.small",
	}, a.Next().Entries)
}
