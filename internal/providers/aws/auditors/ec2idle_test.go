package auditors

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

func instance(id, typ string, tags ...ec2types.Tag) ec2types.Instance {
	return ec2types.Instance{
		InstanceId:   aws.String(id),
		InstanceType: ec2types.InstanceType(typ),
		State:        &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
		Tags:         tags,
	}
}

func reservations(instances ...ec2types.Instance) [][]ec2types.Reservation {
	return [][]ec2types.Reservation{{{Instances: instances}}}
}

func idleFixture() (*mockEC2, *mockCW) {
	ec2 := &mockEC2{instancePages: reservations(
		instance("i-idle", "t3.micro", ec2types.Tag{Key: aws.String("Name"), Value: aws.String("bastion")}),
		instance("i-busy", "m5.large"),
		instance("i-nodata", "t3.small"),
	)}
	cw := &mockCW{values: map[string]float64{
		metricKey("CPUUtilization", "i-idle"): 1.2,
		metricKey("NetworkIn", "i-idle"):      5 * bytesPerMB,
		metricKey("NetworkOut", "i-idle"):     5 * bytesPerMB,
		metricKey("CPUUtilization", "i-busy"): 55,
		metricKey("NetworkIn", "i-busy"):      1,
		metricKey("NetworkOut", "i-busy"):     1,
	}}
	return ec2, cw
}

func runEC2Idle(t *testing.T, ec2 *mockEC2, cw *mockCW, cfg EC2IdleConfig) *models.AuditReport {
	t.Helper()
	a := NewEC2Idle(testEnv(&Clients{EC2: ec2, CloudWatch: cw}), cfg)
	report, err := engine.NewDefaultEngine().RunAudit(context.Background(), a, engine.RunOptions{Regions: []string{"eu-west-1"}})
	require.NoError(t, err)
	return report
}

func TestEC2Idle_FlagsOnlyQuietInstances(t *testing.T) {
	ec2, cw := idleFixture()
	report := runEC2Idle(t, ec2, cw, DefaultEC2IdleConfig())

	assert.Equal(t, []string{"i-idle"}, resultIDs(report, "instance_id"))
	assert.Equal(t, 3, report.Summary.Scanned)

	rec := report.Results[0]
	name, _ := rec.Get("name")
	assert.Equal(t, "bastion", name)
	net, _ := rec.Get("network_mb")
	assert.InDelta(t, 10.0, net, 1e-9)
	reasons, _ := rec.Get("reasons")
	assert.Equal(t, []string{"cpu_avg 1.20 <= 3.00", "network_mb 10.00 <= 50.00"}, reasons)
	assert.Empty(t, ec2.tagged)
}

func TestEC2Idle_TreatMissingMetricsIdle(t *testing.T) {
	ec2, cw := idleFixture()
	cfg := DefaultEC2IdleConfig()
	cfg.TreatMissingMetricsIdle = true

	report := runEC2Idle(t, ec2, cw, cfg)
	assert.Equal(t, []string{"i-idle", "i-nodata"}, resultIDs(report, "instance_id"))

	missing, _ := report.Results[1].Get("metrics_missing")
	assert.Equal(t, true, missing)
	reasons, _ := report.Results[1].Get("reasons")
	assert.Contains(t, reasons, "metrics missing, treated as idle")
}

func TestEC2Idle_ApplyTagWithinCap(t *testing.T) {
	ec2, cw := idleFixture()
	cfg := DefaultEC2IdleConfig()
	cfg.TreatMissingMetricsIdle = true
	cfg.ApplyTag = true
	cfg.MaxTag = 1

	report := runEC2Idle(t, ec2, cw, cfg)

	require.Len(t, ec2.tagged, 1)
	assert.Equal(t, []string{"i-idle"}, ec2.tagged[0].Resources)
	assert.Equal(t, "Cost:Review", aws.ToString(ec2.tagged[0].Tags[0].Key))
	assert.Equal(t, "ec2-idle-candidate", aws.ToString(ec2.tagged[0].Tags[0].Value))
	assert.Equal(t, 1, report.Summary.Applied)

	attempted, _ := report.Results[1].Get("tag_attempted")
	assert.Equal(t, false, attempted)
}

func TestEC2Idle_TagErrorRecorded(t *testing.T) {
	ec2, cw := idleFixture()
	ec2.tagErr = errBoom
	cfg := DefaultEC2IdleConfig()
	cfg.ApplyTag = true

	report := runEC2Idle(t, ec2, cw, cfg)
	tagErr, _ := report.Results[0].Get("tag_error")
	assert.Contains(t, tagErr, "boom")
	assert.Equal(t, 1, report.Summary.Failed)
}

func TestEC2Idle_CloudWatchErrorNotFlagged(t *testing.T) {
	ec2, _ := idleFixture()
	report := runEC2Idle(t, ec2, &mockCW{err: errBoom}, DefaultEC2IdleConfig())
	assert.Empty(t, report.Results)
	assert.Equal(t, 3, report.Summary.Scanned)
}
