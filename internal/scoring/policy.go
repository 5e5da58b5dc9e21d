package scoring

import (
	"encoding/json"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openlearnhq/engagement-backend/internal/logger"
)

// MetricPolicy maps metrics to point weights. It is an explicit value handed
// to every scoring call; swapping weight tables in tests never touches
// process-wide state. Metrics absent from the table contribute nothing to the
// total but still keep their counters.
type MetricPolicy struct {
	Weights map[Metric]int

	// ReplyMetric is credited to the acting user when they post a reply.
	// Historically this flapped between num_replies and num_comments, so it
	// stays configurable.
	ReplyMetric Metric
	// ReplyParentMetric is credited to the author being replied to. Empty
	// disables the credit.
	ReplyParentMetric Metric
}

// DefaultMetricPolicy returns the built-in weight table. Flags, downvotes
// and reads are tracked but never scored.
func DefaultMetricPolicy() MetricPolicy {
	return MetricPolicy{
		Weights: map[Metric]int{
			MetricThreads:           10,
			MetricComments:          15,
			MetricReplies:           15,
			MetricUpvotes:           25,
			MetricThreadFollowers:   5,
			MetricCommentsGenerated: 15,
		},
		ReplyMetric:       MetricReplies,
		ReplyParentMetric: MetricCommentsGenerated,
	}
}

func (p MetricPolicy) Weight(m Metric) int {
	return p.Weights[m]
}

// ScoreFor computes the weighted total for a flat stat snapshot keyed by
// metric name. Unknown keys resolve to weight zero.
func (p MetricPolicy) ScoreFor(counters map[string]int) int {
	total := 0
	for metric, weight := range p.Weights {
		total += counters[string(metric)] * weight
	}
	return total
}

type policyFile struct {
	Weights           map[string]int `yaml:"weights" json:"weights"`
	ReplyMetric       string         `yaml:"reply_metric" json:"reply_metric"`
	ReplyParentMetric string         `yaml:"reply_parent_metric" json:"reply_parent_metric"`
}

// LoadMetricPolicy builds the active policy: the defaults, optionally
// replaced wholesale by SOCIAL_METRIC_POINTS (inline JSON) or
// SOCIAL_METRIC_POINTS_FILE (YAML). No override is never an error.
func LoadMetricPolicy(log *logger.Logger) MetricPolicy {
	policy := DefaultMetricPolicy()

	if path := strings.TrimSpace(os.Getenv("SOCIAL_METRIC_POINTS_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if log != nil {
				log.Warn("Metric policy file unreadable, keeping defaults", "path", path, "error", err)
			}
			return policy
		}
		var parsed policyFile
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			if log != nil {
				log.Warn("Metric policy file unparsable, keeping defaults", "path", path, "error", err)
			}
			return policy
		}
		return policy.merge(parsed)
	}

	if raw := strings.TrimSpace(os.Getenv("SOCIAL_METRIC_POINTS")); raw != "" {
		var parsed policyFile
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil &&
			(len(parsed.Weights) > 0 || parsed.ReplyMetric != "" || parsed.ReplyParentMetric != "") {
			return policy.merge(parsed)
		}
		// Plain weight tables are also accepted.
		var weights map[string]int
		if err := json.Unmarshal([]byte(raw), &weights); err != nil {
			if log != nil {
				log.Warn("SOCIAL_METRIC_POINTS unparsable, keeping defaults", "error", err)
			}
			return policy
		}
		return policy.merge(policyFile{Weights: weights})
	}

	return policy
}

func (p MetricPolicy) merge(override policyFile) MetricPolicy {
	if len(override.Weights) > 0 {
		weights := make(map[Metric]int, len(override.Weights))
		for name, weight := range override.Weights {
			weights[Metric(name)] = weight
		}
		p.Weights = weights
	}
	if m := strings.TrimSpace(override.ReplyMetric); m != "" {
		p.ReplyMetric = Metric(m)
	}
	if m := strings.TrimSpace(override.ReplyParentMetric); m != "" {
		if m == "none" {
			p.ReplyParentMetric = ""
		} else {
			p.ReplyParentMetric = Metric(m)
		}
	}
	return p
}
