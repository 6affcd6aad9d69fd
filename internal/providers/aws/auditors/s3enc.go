package auditors

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/paginate"
)

// S3EncryptionID is the auditor identifier used in reports and policy files.
const S3EncryptionID = "s3-encryption"

// errCodeNoEncryption is the S3 error code for a bucket without a default
// encryption configuration.
const errCodeNoEncryption = "ServerSideEncryptionConfigurationNotFoundError"

// S3EncryptionConfig holds the switches of the bucket encryption auditor.
type S3EncryptionConfig struct {
	NameContains string
	// Apply enables SSE-S3 (AES256) default encryption on flagged buckets.
	Apply    bool
	MaxApply int
}

// DefaultS3EncryptionConfig returns the documented defaults.
func DefaultS3EncryptionConfig() S3EncryptionConfig {
	return S3EncryptionConfig{MaxApply: 50}
}

// S3Encryption flags buckets without default server-side encryption.
type S3Encryption struct {
	env *Env
	cfg S3EncryptionConfig
}

// NewS3Encryption returns the bucket encryption auditor.
func NewS3Encryption(env *Env, cfg S3EncryptionConfig) *S3Encryption {
	return &S3Encryption{env: env, cfg: cfg}
}

// Info implements engine.Auditor.
func (a *S3Encryption) Info() engine.Info {
	return engine.Info{
		ID:           S3EncryptionID,
		Scope:        engine.Global,
		Params:       models.NewRecord("name_filter", a.cfg.NameContains, "apply", a.cfg.Apply, "max_apply", a.cfg.MaxApply),
		Columns:      []string{"bucket", "bucket_region", "created", "encrypt_attempted", "encrypt_error"},
		EmptyMessage: "Every bucket has default encryption enabled.",
		Remediation: &engine.Remediation{
			Verb:    "encrypt",
			Enabled: a.cfg.Apply,
			Max:     a.cfg.MaxApply,
			Hint:    "use --apply to enable SSE-S3 (AES256) default encryption.",
			Action:  a.encrypt,
		},
	}
}

// Collect implements engine.Auditor.
func (a *S3Encryption) Collect(ctx context.Context, _ string) ([]*engine.Candidate, error) {
	home := a.env.Clients("")

	buckets, err := paginate.ListAll(ctx, func(ctx context.Context, token *string) ([]s3types.Bucket, *string, error) {
		out, err := home.S3.ListBuckets(ctx, &s3.ListBucketsInput{ContinuationToken: token, MaxBuckets: aws.Int32(1000)})
		if err != nil {
			return nil, nil, fmt.Errorf("ListBuckets: %w", err)
		}
		return out.Buckets, out.ContinuationToken, nil
	})
	if err != nil {
		return nil, err
	}

	var candidates []*engine.Candidate
	for _, b := range buckets {
		name := aws.ToString(b.Name)
		if !(Filters{NameContains: a.cfg.NameContains}).Match(name, nil) {
			continue
		}

		// Buckets are queried through a client for their own region.
		region := aws.ToString(b.BucketRegion)
		clients := home
		if region != "" {
			clients = a.env.Clients(region)
		}

		missing, checkErr := a.encryptionMissing(ctx, clients.S3, name)
		var created any
		if b.CreationDate != nil {
			created = b.CreationDate.UTC().Format("2006-01-02")
		}

		candidates = append(candidates, &engine.Candidate{
			ID:     name,
			Region: region,
			Record: models.NewRecord(
				"bucket", name,
				"bucket_region", region,
				"created", created,
				"check_error", checkErr,
			),
			Verdict: classify.Classify([]classify.Check{
				classify.Condition("encryption", missing, "default encryption missing"),
			}, classify.All),
			Target: clients,
		})
	}
	return candidates, nil
}

// encryptionMissing reports whether the bucket has no default encryption.
// Errors other than the "not found" code leave the bucket unflagged and are
// returned as text for the report.
func (a *S3Encryption) encryptionMissing(ctx context.Context, client S3Client, bucket string) (bool, any) {
	out, err := client.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: aws.String(bucket)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == errCodeNoEncryption {
			return true, nil
		}
		return false, err.Error()
	}
	if out.ServerSideEncryptionConfiguration == nil || len(out.ServerSideEncryptionConfiguration.Rules) == 0 {
		return true, nil
	}
	return false, nil
}

func (a *S3Encryption) encrypt(ctx context.Context, c *engine.Candidate) error {
	_, err := c.Target.(*Clients).S3.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: aws.String(c.ID),
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
					SSEAlgorithm: s3types.ServerSideEncryptionAes256,
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("PutBucketEncryption: %w", err)
	}
	return nil
}
