package auditors

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ── shared test fixtures ──────────────────────────────────────────────────────

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := testNow.AddDate(0, 0, -n)
	return &t
}

// testEnv returns an Env whose factory always hands out c.
func testEnv(c *Clients) *Env {
	return &Env{
		Factory: func(aws.Config) *Clients { return c },
		Now:     func() time.Time { return testNow },
	}
}

// ── EC2 ───────────────────────────────────────────────────────────────────────

type mockEC2 struct {
	volumePages   [][]ec2types.Volume
	instancePages [][]ec2types.Reservation
	natPages      [][]ec2types.NatGateway
	routeTables   map[string]int // NAT gateway ID -> route tables pointing at it
	listErr       error

	snapshotErr error
	deleteErr   map[string]error
	tagErr      error

	volumeTokens []string
	deleted      []string
	snapshots    []*ec2svc.CreateSnapshotInput
	tagged       []*ec2svc.CreateTagsInput
}

func pageOf[T any](pages [][]T, token *string) ([]T, *string) {
	idx := 0
	if token != nil {
		for i := range pages {
			if "p"+string(rune('0'+i)) == *token {
				idx = i
			}
		}
	}
	if idx >= len(pages) {
		return nil, nil
	}
	var next *string
	if idx+1 < len(pages) {
		next = aws.String("p" + string(rune('0'+idx+1)))
	}
	return pages[idx], next
}

func (m *mockEC2) DescribeVolumes(_ context.Context, in *ec2svc.DescribeVolumesInput, _ ...func(*ec2svc.Options)) (*ec2svc.DescribeVolumesOutput, error) {
	m.volumeTokens = append(m.volumeTokens, aws.ToString(in.NextToken))
	if m.listErr != nil {
		return nil, m.listErr
	}
	items, next := pageOf(m.volumePages, in.NextToken)
	return &ec2svc.DescribeVolumesOutput{Volumes: items, NextToken: next}, nil
}

func (m *mockEC2) DescribeInstances(_ context.Context, in *ec2svc.DescribeInstancesInput, _ ...func(*ec2svc.Options)) (*ec2svc.DescribeInstancesOutput, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	items, next := pageOf(m.instancePages, in.NextToken)
	return &ec2svc.DescribeInstancesOutput{Reservations: items, NextToken: next}, nil
}

func (m *mockEC2) DescribeNatGateways(_ context.Context, in *ec2svc.DescribeNatGatewaysInput, _ ...func(*ec2svc.Options)) (*ec2svc.DescribeNatGatewaysOutput, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	items, next := pageOf(m.natPages, in.NextToken)
	return &ec2svc.DescribeNatGatewaysOutput{NatGateways: items, NextToken: next}, nil
}

func (m *mockEC2) DescribeRouteTables(_ context.Context, in *ec2svc.DescribeRouteTablesInput, _ ...func(*ec2svc.Options)) (*ec2svc.DescribeRouteTablesOutput, error) {
	natID := ""
	for _, f := range in.Filters {
		if aws.ToString(f.Name) == "route.nat-gateway-id" && len(f.Values) > 0 {
			natID = f.Values[0]
		}
	}
	out := &ec2svc.DescribeRouteTablesOutput{}
	for i := 0; i < m.routeTables[natID]; i++ {
		out.RouteTables = append(out.RouteTables, ec2types.RouteTable{RouteTableId: aws.String("rtb-" + natID)})
	}
	return out, nil
}

func (m *mockEC2) CreateSnapshot(_ context.Context, in *ec2svc.CreateSnapshotInput, _ ...func(*ec2svc.Options)) (*ec2svc.CreateSnapshotOutput, error) {
	m.snapshots = append(m.snapshots, in)
	if m.snapshotErr != nil {
		return nil, m.snapshotErr
	}
	return &ec2svc.CreateSnapshotOutput{SnapshotId: aws.String("snap-" + aws.ToString(in.VolumeId))}, nil
}

func (m *mockEC2) CreateTags(_ context.Context, in *ec2svc.CreateTagsInput, _ ...func(*ec2svc.Options)) (*ec2svc.CreateTagsOutput, error) {
	m.tagged = append(m.tagged, in)
	if m.tagErr != nil {
		return nil, m.tagErr
	}
	return &ec2svc.CreateTagsOutput{}, nil
}

func (m *mockEC2) DeleteVolume(_ context.Context, in *ec2svc.DeleteVolumeInput, _ ...func(*ec2svc.Options)) (*ec2svc.DeleteVolumeOutput, error) {
	id := aws.ToString(in.VolumeId)
	if err := m.deleteErr[id]; err != nil {
		return nil, err
	}
	m.deleted = append(m.deleted, id)
	return &ec2svc.DeleteVolumeOutput{}, nil
}

// ── CloudWatch ────────────────────────────────────────────────────────────────

// mockCW answers GetMetricStatistics from a table keyed by metric name and
// the value of the first dimension. A missing key yields no datapoints.
type mockCW struct {
	values map[string]float64
	err    error
}

func metricKey(metric, dim string) string { return metric + "/" + dim }

func (m *mockCW) GetMetricStatistics(_ context.Context, in *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	dim := ""
	if len(in.Dimensions) > 0 {
		dim = aws.ToString(in.Dimensions[0].Value)
	}
	v, ok := m.values[metricKey(aws.ToString(in.MetricName), dim)]
	if !ok {
		return &cloudwatch.GetMetricStatisticsOutput{}, nil
	}
	return &cloudwatch.GetMetricStatisticsOutput{Datapoints: []cwtypes.Datapoint{{Sum: aws.Float64(v), Average: aws.Float64(v), Maximum: aws.Float64(v)}}}, nil
}

// ── RDS ───────────────────────────────────────────────────────────────────────

type mockRDS struct {
	instancePages [][]rdstypes.DBInstance
	clusterPages  [][]rdstypes.DBCluster
	clusterErr    error

	instanceMarkers []string
	tagged          []string
}

func (m *mockRDS) DescribeDBInstances(_ context.Context, in *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	m.instanceMarkers = append(m.instanceMarkers, aws.ToString(in.Marker))
	items, next := pageOf(m.instancePages, in.Marker)
	return &rds.DescribeDBInstancesOutput{DBInstances: items, Marker: next}, nil
}

func (m *mockRDS) DescribeDBClusters(_ context.Context, in *rds.DescribeDBClustersInput, _ ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error) {
	if m.clusterErr != nil {
		return nil, m.clusterErr
	}
	items, next := pageOf(m.clusterPages, in.Marker)
	return &rds.DescribeDBClustersOutput{DBClusters: items, Marker: next}, nil
}

func (m *mockRDS) AddTagsToResource(_ context.Context, in *rds.AddTagsToResourceInput, _ ...func(*rds.Options)) (*rds.AddTagsToResourceOutput, error) {
	m.tagged = append(m.tagged, aws.ToString(in.ResourceName))
	return &rds.AddTagsToResourceOutput{}, nil
}

// ── ELBv2 ─────────────────────────────────────────────────────────────────────

type mockELB struct {
	lbPages [][]elbtypes.LoadBalancer
	tags    map[string]map[string]string
	// targets maps a load balancer ARN to the health states of its targets.
	targets map[string][]elbtypes.TargetHealthStateEnum

	markers []string
	tagged  []string
}

func (m *mockELB) DescribeLoadBalancers(_ context.Context, in *elbv2.DescribeLoadBalancersInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error) {
	m.markers = append(m.markers, aws.ToString(in.Marker))
	items, next := pageOf(m.lbPages, in.Marker)
	return &elbv2.DescribeLoadBalancersOutput{LoadBalancers: items, NextMarker: next}, nil
}

func (m *mockELB) DescribeTags(_ context.Context, in *elbv2.DescribeTagsInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeTagsOutput, error) {
	out := &elbv2.DescribeTagsOutput{}
	for _, arn := range in.ResourceArns {
		d := elbtypes.TagDescription{ResourceArn: aws.String(arn)}
		for k, v := range m.tags[arn] {
			d.Tags = append(d.Tags, elbtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
		out.TagDescriptions = append(out.TagDescriptions, d)
	}
	return out, nil
}

func (m *mockELB) DescribeTargetGroups(_ context.Context, in *elbv2.DescribeTargetGroupsInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeTargetGroupsOutput, error) {
	arn := aws.ToString(in.LoadBalancerArn)
	if _, ok := m.targets[arn]; !ok {
		return &elbv2.DescribeTargetGroupsOutput{}, nil
	}
	return &elbv2.DescribeTargetGroupsOutput{TargetGroups: []elbtypes.TargetGroup{{TargetGroupArn: aws.String("tg:" + arn)}}}, nil
}

func (m *mockELB) DescribeTargetHealth(_ context.Context, in *elbv2.DescribeTargetHealthInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeTargetHealthOutput, error) {
	arn := aws.ToString(in.TargetGroupArn)[len("tg:"):]
	out := &elbv2.DescribeTargetHealthOutput{}
	for _, state := range m.targets[arn] {
		out.TargetHealthDescriptions = append(out.TargetHealthDescriptions, elbtypes.TargetHealthDescription{
			TargetHealth: &elbtypes.TargetHealth{State: state},
		})
	}
	return out, nil
}

func (m *mockELB) AddTags(_ context.Context, in *elbv2.AddTagsInput, _ ...func(*elbv2.Options)) (*elbv2.AddTagsOutput, error) {
	m.tagged = append(m.tagged, in.ResourceArns...)
	return &elbv2.AddTagsOutput{}, nil
}

// ── IAM ───────────────────────────────────────────────────────────────────────

type mockIAM struct {
	users    []string
	keys     map[string][]iamtypes.AccessKeyMetadata
	lastUsed map[string]*time.Time

	deactivated []string
}

// ListUsers returns one user per page to exercise IsTruncated paging.
func (m *mockIAM) ListUsers(_ context.Context, in *iam.ListUsersInput, _ ...func(*iam.Options)) (*iam.ListUsersOutput, error) {
	pages := make([][]iamtypes.User, 0, len(m.users))
	for _, u := range m.users {
		pages = append(pages, []iamtypes.User{{UserName: aws.String(u)}})
	}
	items, next := pageOf(pages, in.Marker)
	return &iam.ListUsersOutput{Users: items, Marker: next, IsTruncated: next != nil}, nil
}

func (m *mockIAM) ListAccessKeys(_ context.Context, in *iam.ListAccessKeysInput, _ ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error) {
	return &iam.ListAccessKeysOutput{AccessKeyMetadata: m.keys[aws.ToString(in.UserName)]}, nil
}

func (m *mockIAM) GetAccessKeyLastUsed(_ context.Context, in *iam.GetAccessKeyLastUsedInput, _ ...func(*iam.Options)) (*iam.GetAccessKeyLastUsedOutput, error) {
	return &iam.GetAccessKeyLastUsedOutput{
		AccessKeyLastUsed: &iamtypes.AccessKeyLastUsed{LastUsedDate: m.lastUsed[aws.ToString(in.AccessKeyId)]},
	}, nil
}

func (m *mockIAM) UpdateAccessKey(_ context.Context, in *iam.UpdateAccessKeyInput, _ ...func(*iam.Options)) (*iam.UpdateAccessKeyOutput, error) {
	m.deactivated = append(m.deactivated, aws.ToString(in.AccessKeyId))
	return &iam.UpdateAccessKeyOutput{}, nil
}

// ── S3 ────────────────────────────────────────────────────────────────────────

type mockS3 struct {
	bucketPages [][]s3types.Bucket
	// encryption maps a bucket to the error GetBucketEncryption returns;
	// buckets absent from the map are encrypted.
	encryption map[string]error

	tokens    []string
	encrypted []string
}

func (m *mockS3) ListBuckets(_ context.Context, in *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	m.tokens = append(m.tokens, aws.ToString(in.ContinuationToken))
	items, next := pageOf(m.bucketPages, in.ContinuationToken)
	return &s3.ListBucketsOutput{Buckets: items, ContinuationToken: next}, nil
}

func (m *mockS3) GetBucketEncryption(_ context.Context, in *s3.GetBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error) {
	if err := m.encryption[aws.ToString(in.Bucket)]; err != nil {
		return nil, err
	}
	return &s3.GetBucketEncryptionOutput{ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
		Rules: []s3types.ServerSideEncryptionRule{{}},
	}}, nil
}

func (m *mockS3) PutBucketEncryption(_ context.Context, in *s3.PutBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error) {
	m.encrypted = append(m.encrypted, aws.ToString(in.Bucket))
	return &s3.PutBucketEncryptionOutput{}, nil
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

// ── Cost Explorer ─────────────────────────────────────────────────────────────

type mockCE struct {
	pages [][]cetypes.ResultByTime
	input *ce.GetCostAndUsageInput
}

func (m *mockCE) GetCostAndUsage(_ context.Context, in *ce.GetCostAndUsageInput, _ ...func(*ce.Options)) (*ce.GetCostAndUsageOutput, error) {
	m.input = in
	items, next := pageOf(m.pages, in.NextPageToken)
	return &ce.GetCostAndUsageOutput{ResultsByTime: items, NextPageToken: next}, nil
}

var errBoom = errors.New("boom")
