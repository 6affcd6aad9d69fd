package auditors

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Filters narrow the resources an auditor considers before classification.
type Filters struct {
	// NameContains keeps resources whose Name tag or ID contains the substring.
	NameContains string
	// RequiredTags keeps resources carrying every key with exactly the value.
	RequiredTags map[string]string
	// ExcludeTags drops resources carrying any of the key/value pairs.
	ExcludeTags map[string]string
}

// Match reports whether a resource with the given id and tags passes.
func (f Filters) Match(id string, tags map[string]string) bool {
	if f.NameContains != "" &&
		!strings.Contains(tags["Name"], f.NameContains) &&
		!strings.Contains(id, f.NameContains) {
		return false
	}
	for k, v := range f.RequiredTags {
		if got, ok := tags[k]; !ok || got != v {
			return false
		}
	}
	for k, v := range f.ExcludeTags {
		if got, ok := tags[k]; ok && got == v {
			return false
		}
	}
	return true
}

// ParseTagPairs parses repeated KEY=VALUE flags. Whitespace around key and
// value is trimmed; the value may itself contain "=".
func ParseTagPairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q: want KEY=VALUE", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// tagsFromEC2 converts a slice of EC2 SDK tags to a plain map.
func tagsFromEC2(tags []ec2types.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}

// ec2Tags converts a map to EC2 SDK tags sorted by key.
func ec2Tags(m map[string]string) []ec2types.Tag {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ec2types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return out
}

// daysSince returns whole days between t and now; negative spans clamp to 0.
func daysSince(now, t time.Time) int {
	d := int(now.Sub(t).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// round2 rounds to cents.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// optInt32 turns an optional SDK integer into a record value; nil stays nil.
func optInt32(p *int32) any {
	if p == nil {
		return nil
	}
	return *p
}
