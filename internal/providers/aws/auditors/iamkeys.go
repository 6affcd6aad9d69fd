package auditors

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/paginate"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/remediate"
)

// IAMKeyAgeID is the auditor identifier used in reports and policy files.
const IAMKeyAgeID = "iam-key-age"

// IAMKeyAgeConfig holds the thresholds and switches of the access key auditor.
type IAMKeyAgeConfig struct {
	MaxAgeDays int
	UnusedDays int

	UserPrefix   string
	UserRegex    *regexp.Regexp
	ExcludeUsers []string

	Deactivate bool
	MaxApply   int
}

// DefaultIAMKeyAgeConfig returns the documented defaults.
func DefaultIAMKeyAgeConfig() IAMKeyAgeConfig {
	return IAMKeyAgeConfig{MaxAgeDays: 90, UnusedDays: 45, MaxApply: 50}
}

// IAMKeyAge flags IAM user access keys that are older than MaxAgeDays or
// unused for more than UnusedDays. A key that was never used counts as
// unused since its creation.
type IAMKeyAge struct {
	env *Env
	cfg IAMKeyAgeConfig
}

// NewIAMKeyAge returns the access key auditor.
func NewIAMKeyAge(env *Env, cfg IAMKeyAgeConfig) *IAMKeyAge {
	return &IAMKeyAge{env: env, cfg: cfg}
}

// Info implements engine.Auditor.
func (a *IAMKeyAge) Info() engine.Info {
	var userRegex string
	if a.cfg.UserRegex != nil {
		userRegex = a.cfg.UserRegex.String()
	}
	return engine.Info{
		ID:    IAMKeyAgeID,
		Scope: engine.Global,
		Params: models.NewRecord(
			"max_age_days", a.cfg.MaxAgeDays,
			"unused_days", a.cfg.UnusedDays,
			"user_prefix", a.cfg.UserPrefix,
			"user_regex", userRegex,
			"exclude_users", a.cfg.ExcludeUsers,
			"deactivate", a.cfg.Deactivate,
		),
		Columns:      []string{"user", "key_id", "age_days", "unused_days", "orig_status", "deactivate_attempted", "deactivate_error"},
		EmptyMessage: "No access keys exceeded thresholds.",
		Remediation: &engine.Remediation{
			Verb:    "deactivate",
			Enabled: a.cfg.Deactivate,
			Max:     a.cfg.MaxApply,
			Hint:    "consider rotating flagged keys or use --deactivate to set them Inactive.",
			Action:  a.deactivate,
		},
	}
}

// iamKey is the remediation target of a flagged key.
type iamKey struct {
	clients *Clients
	user    string
	status  iamtypes.StatusType
}

// Collect implements engine.Auditor.
func (a *IAMKeyAge) Collect(ctx context.Context, _ string) ([]*engine.Candidate, error) {
	clients := a.env.Clients("")

	users, err := paginate.ListAll(ctx, func(ctx context.Context, marker *string) ([]iamtypes.User, *string, error) {
		out, err := clients.IAM.ListUsers(ctx, &iam.ListUsersInput{Marker: marker})
		if err != nil {
			return nil, nil, fmt.Errorf("ListUsers: %w", err)
		}
		if !out.IsTruncated {
			return out.Users, nil, nil
		}
		return out.Users, out.Marker, nil
	})
	if err != nil {
		return nil, err
	}

	now := a.env.now()
	var candidates []*engine.Candidate
	for _, u := range users {
		user := aws.ToString(u.UserName)
		if !a.includeUser(user) {
			continue
		}

		keys, err := paginate.ListAll(ctx, func(ctx context.Context, marker *string) ([]iamtypes.AccessKeyMetadata, *string, error) {
			out, err := clients.IAM.ListAccessKeys(ctx, &iam.ListAccessKeysInput{UserName: aws.String(user), Marker: marker})
			if err != nil {
				return nil, nil, fmt.Errorf("ListAccessKeys %s: %w", user, err)
			}
			if !out.IsTruncated {
				return out.AccessKeyMetadata, nil, nil
			}
			return out.AccessKeyMetadata, out.Marker, nil
		})
		if err != nil {
			return nil, err
		}

		for _, k := range keys {
			candidates = append(candidates, a.classifyKey(ctx, clients, user, k, now))
		}
	}
	return candidates, nil
}

func (a *IAMKeyAge) classifyKey(ctx context.Context, clients *Clients, user string, k iamtypes.AccessKeyMetadata, now time.Time) *engine.Candidate {
	keyID := aws.ToString(k.AccessKeyId)

	var lastUsed *time.Time
	out, err := clients.IAM.GetAccessKeyLastUsed(ctx, &iam.GetAccessKeyLastUsedInput{AccessKeyId: aws.String(keyID)})
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("key", keyID).Msg("last used lookup failed")
	} else if out.AccessKeyLastUsed != nil {
		lastUsed = out.AccessKeyLastUsed.LastUsedDate
	}

	var (
		checks     []classify.Check
		age        any
		unused     any
		lastUsedAt any
	)
	if k.CreateDate != nil {
		days := daysSince(now, *k.CreateDate)
		age = days
		unused = days
		checks = append(checks, classify.Check{
			Name: "age_days", Observed: float64(days), Threshold: float64(a.cfg.MaxAgeDays), Op: classify.Above,
			Text: fmt.Sprintf("age %dd > %d", days, a.cfg.MaxAgeDays),
		})
	}
	if lastUsed != nil {
		unused = daysSince(now, *lastUsed)
		lastUsedAt = lastUsed.UTC().Format(time.RFC3339)
	}
	if days, ok := unused.(int); ok {
		checks = append(checks, classify.Check{
			Name: "unused_days", Observed: float64(days), Threshold: float64(a.cfg.UnusedDays), Op: classify.Above,
			Text: fmt.Sprintf("unused %dd > %d", days, a.cfg.UnusedDays),
		})
	}

	return &engine.Candidate{
		ID: keyID,
		Record: models.NewRecord(
			"user", user,
			"key_id", keyID,
			"orig_status", string(k.Status),
			"age_days", age,
			"unused_days", unused,
			"last_used", lastUsedAt,
		),
		Verdict: classify.Classify(checks, classify.Any),
		Target:  &iamKey{clients: clients, user: user, status: k.Status},
	}
}

func (a *IAMKeyAge) includeUser(user string) bool {
	if slices.Contains(a.cfg.ExcludeUsers, user) {
		return false
	}
	if a.cfg.UserPrefix != "" && !strings.HasPrefix(user, a.cfg.UserPrefix) {
		return false
	}
	if a.cfg.UserRegex != nil && !a.cfg.UserRegex.MatchString(user) {
		return false
	}
	return true
}

// deactivate sets an active key to Inactive. Keys that are already inactive
// are skipped.
func (a *IAMKeyAge) deactivate(ctx context.Context, c *engine.Candidate) error {
	key := c.Target.(*iamKey)
	if key.status == iamtypes.StatusTypeInactive {
		return remediate.ErrSkip
	}
	_, err := key.clients.IAM.UpdateAccessKey(ctx, &iam.UpdateAccessKeyInput{
		UserName:    aws.String(key.user),
		AccessKeyId: aws.String(c.ID),
		Status:      iamtypes.StatusTypeInactive,
	})
	if err != nil {
		return fmt.Errorf("UpdateAccessKey: %w", err)
	}
	return nil
}
