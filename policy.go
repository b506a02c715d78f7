package gdexposure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/FabriceFx/gdexposure/pkg/exposureevent"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/goccy/go-yaml"
)

// Policy is the operator-maintained alerting policy: document ids that must
// never be alerted on, and CEL suppression rules evaluated against each
// confirmed exposure before grouping.
type Policy struct {
	ExcludedDocIDs []string           `yaml:"excluded_doc_ids,omitempty"`
	Rules          []*SuppressionRule `yaml:"rules,omitempty"`
}

// SuppressionRule skips exposures for which the When expression is true.
type SuppressionRule struct {
	When   string `yaml:"when"`
	Reason string `yaml:"reason,omitempty"`

	compiled *CompiledExpression
}

// DefaultPolicy returns an empty policy: nothing excluded, no rules.
func DefaultPolicy() *Policy {
	return &Policy{}
}

// LoadPolicy loads and compiles a policy file. The path may be a local
// file, an http(s) URL or an s3:// URL.
func LoadPolicy(ctx context.Context, path string, env *CELEnv) (*Policy, error) {
	content, err := fetchPolicy(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s load failed: %w", path, err)
	}
	policy := &Policy{}
	if err := yaml.Unmarshal(content, policy); err != nil {
		return nil, fmt.Errorf("%s parse failed: %w", path, err)
	}
	if err := policy.Restrict(env); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return policy, nil
}

// Restrict validates the policy and compiles its rules.
func (p *Policy) Restrict(env *CELEnv) error {
	for i, rule := range p.Rules {
		if rule.When == "" {
			return fmt.Errorf("rules[%d]: when is required", i)
		}
		compiled, err := env.Compile(rule.When)
		if err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
		rule.compiled = compiled
	}
	return nil
}

// ExcludedSet returns the excluded doc ids as a lookup set.
func (p *Policy) ExcludedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.ExcludedDocIDs))
	for _, id := range p.ExcludedDocIDs {
		set[id] = struct{}{}
	}
	return set
}

// Suppressed reports whether a confirmed exposure matches a suppression
// rule. A rule that fails to evaluate is logged and does not suppress.
func (p *Policy) Suppressed(ctx context.Context, exposure *ConfirmedExposure) bool {
	if len(p.Rules) == 0 {
		return false
	}
	payload := &exposureevent.Exposure{
		DocID:    exposure.DocID,
		Title:    exposure.Title,
		Owner:    exposure.Owner,
		URL:      exposure.URL,
		Level:    exposure.Level.String(),
		ItemKind: exposure.ItemKind.String(),
	}
	for i, rule := range p.Rules {
		matched, err := rule.compiled.Eval(payload)
		if err != nil {
			slog.WarnContext(ctx, "suppression rule evaluation failed", "index", i, "when", rule.When, "error", err)
			continue
		}
		if matched {
			slog.InfoContext(ctx, "exposure suppressed by rule", "doc_id", exposure.DocID, "index", i, "reason", coalesce(rule.Reason, rule.When))
			return true
		}
	}
	return false
}

func fetchPolicy(ctx context.Context, path string) ([]byte, error) {
	u, err := url.Parse(path)
	if err != nil {
		return os.ReadFile(path)
	}
	switch u.Scheme {
	case "http", "https":
		return fetchPolicyFromHTTP(ctx, u)
	case "s3":
		return fetchPolicyFromS3(ctx, u)
	case "file", "":
		return os.ReadFile(u.Path)
	default:
		return nil, fmt.Errorf("scheme %s is not supported", u.Scheme)
	}
}

func fetchPolicyFromHTTP(ctx context.Context, u *url.URL) ([]byte, error) {
	slog.InfoContext(ctx, "fetching policy", "url", u.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch failed: HTTP %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func fetchPolicyFromS3(ctx context.Context, u *url.URL) ([]byte, error) {
	slog.InfoContext(ctx, "fetching policy", "url", u.String())
	awsCfg, err := loadAWSConfig()
	if err != nil {
		return nil, err
	}
	downloader := manager.NewDownloader(s3.NewFromConfig(awsCfg))
	var buf manager.WriteAtBuffer
	slog.DebugContext(ctx, "try download", "bucket", u.Host, "key", u.Path)
	_, err = downloader.Download(ctx, &buf, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(strings.TrimLeft(u.Path, "/")),
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) {
			return nil, fmt.Errorf("failed to fetch from S3 (%s): %s", ae.ErrorCode(), ae.ErrorMessage())
		}
		return nil, fmt.Errorf("failed to fetch from S3: %w", err)
	}
	return buf.Bytes(), nil
}
