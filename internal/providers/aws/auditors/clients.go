package auditors

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/providers/aws/cwmetrics"
)

// ---------------------------------------------------------------------------
// Narrow client interfaces
//
// Each interface lists only the SDK operations the auditors call. The real
// *ec2.Client, *rds.Client, etc. satisfy these automatically. Replace any
// field in Clients with a stub struct in unit tests.
// ---------------------------------------------------------------------------

// EC2Client covers the EC2 listing and remediation operations.
type EC2Client interface {
	DescribeVolumes(ctx context.Context, params *ec2svc.DescribeVolumesInput, optFns ...func(*ec2svc.Options)) (*ec2svc.DescribeVolumesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2svc.DescribeInstancesInput, optFns ...func(*ec2svc.Options)) (*ec2svc.DescribeInstancesOutput, error)
	DescribeNatGateways(ctx context.Context, params *ec2svc.DescribeNatGatewaysInput, optFns ...func(*ec2svc.Options)) (*ec2svc.DescribeNatGatewaysOutput, error)
	DescribeRouteTables(ctx context.Context, params *ec2svc.DescribeRouteTablesInput, optFns ...func(*ec2svc.Options)) (*ec2svc.DescribeRouteTablesOutput, error)
	CreateSnapshot(ctx context.Context, params *ec2svc.CreateSnapshotInput, optFns ...func(*ec2svc.Options)) (*ec2svc.CreateSnapshotOutput, error)
	CreateTags(ctx context.Context, params *ec2svc.CreateTagsInput, optFns ...func(*ec2svc.Options)) (*ec2svc.CreateTagsOutput, error)
	DeleteVolume(ctx context.Context, params *ec2svc.DeleteVolumeInput, optFns ...func(*ec2svc.Options)) (*ec2svc.DeleteVolumeOutput, error)
}

// RDSClient covers the RDS operations used by the idle database auditor.
type RDSClient interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	DescribeDBClusters(ctx context.Context, params *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
	AddTagsToResource(ctx context.Context, params *rds.AddTagsToResourceInput, optFns ...func(*rds.Options)) (*rds.AddTagsToResourceOutput, error)
}

// ELBv2Client covers the Elastic Load Balancing v2 operations used by the
// idle load balancer auditor.
type ELBv2Client interface {
	DescribeLoadBalancers(ctx context.Context, params *elbv2.DescribeLoadBalancersInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error)
	DescribeTags(ctx context.Context, params *elbv2.DescribeTagsInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTagsOutput, error)
	DescribeTargetGroups(ctx context.Context, params *elbv2.DescribeTargetGroupsInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetGroupsOutput, error)
	DescribeTargetHealth(ctx context.Context, params *elbv2.DescribeTargetHealthInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetHealthOutput, error)
	AddTags(ctx context.Context, params *elbv2.AddTagsInput, optFns ...func(*elbv2.Options)) (*elbv2.AddTagsOutput, error)
}

// IAMClient covers the IAM operations used by the access key auditor.
type IAMClient interface {
	ListUsers(ctx context.Context, params *iam.ListUsersInput, optFns ...func(*iam.Options)) (*iam.ListUsersOutput, error)
	ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
	GetAccessKeyLastUsed(ctx context.Context, params *iam.GetAccessKeyLastUsedInput, optFns ...func(*iam.Options)) (*iam.GetAccessKeyLastUsedOutput, error)
	UpdateAccessKey(ctx context.Context, params *iam.UpdateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.UpdateAccessKeyOutput, error)
}

// S3Client covers the S3 operations used by the bucket encryption auditor.
type S3Client interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetBucketEncryption(ctx context.Context, params *s3.GetBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error)
	PutBucketEncryption(ctx context.Context, params *s3.PutBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error)
}

// CostExplorerClient covers the Cost Explorer operation used by the spike
// auditor. Cost Explorer is a global service; the factory pins it to us-east-1.
type CostExplorerClient interface {
	GetCostAndUsage(ctx context.Context, params *ce.GetCostAndUsageInput, optFns ...func(*ce.Options)) (*ce.GetCostAndUsageOutput, error)
}

// ---------------------------------------------------------------------------
// Clients and factory
// ---------------------------------------------------------------------------

// Clients holds the region-scoped service clients for one region.
// All fields are interfaces; swap any with a mock in tests.
type Clients struct {
	EC2          EC2Client
	RDS          RDSClient
	ELBv2        ELBv2Client
	IAM          IAMClient
	S3           S3Client
	CostExplorer CostExplorerClient
	CloudWatch   cwmetrics.CloudWatchClient
}

// ClientFactory creates Clients from a region-scoped aws.Config.
type ClientFactory func(cfg aws.Config) *Clients

// NewClients is the production ClientFactory.
func NewClients(cfg aws.Config) *Clients {
	ceCfg := cfg
	ceCfg.Region = "us-east-1"
	return &Clients{
		EC2:          ec2svc.NewFromConfig(cfg),
		RDS:          rds.NewFromConfig(cfg),
		ELBv2:        elbv2.NewFromConfig(cfg),
		IAM:          iam.NewFromConfig(cfg),
		S3:           s3.NewFromConfig(cfg),
		CostExplorer: ce.NewFromConfig(ceCfg),
		CloudWatch:   cloudwatch.NewFromConfig(cfg),
	}
}
