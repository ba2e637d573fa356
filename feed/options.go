// Package feed implements home feed scoring, assembly and caching on top
// of the precomputed feed entry tables.
package feed

import (
	"time"

	"github.com/photocampus/feedengine/app_config"
)

const (
	// AlgorithmChronological orders purely by post publication time.
	AlgorithmChronological = "chronological"
	// AlgorithmEngagement orders by weighted engagement, recency breaking ties.
	AlgorithmEngagement = "engagement"
	// AlgorithmMixed is the default blend of recency, engagement and
	// organization relevance.
	AlgorithmMixed = "mixed"
)

// Algorithms lists every ordering the assembler accepts.
var Algorithms = []string{AlgorithmChronological, AlgorithmEngagement, AlgorithmMixed}

// Options are the pipeline tunables. The zero value is not usable, start
// from DefaultOptions.
type Options struct {
	CelebrityFollowerThreshold int
	CelebrityFanoutCap         int
	RecencyWindow              time.Duration
	RecencyDecay               time.Duration
	LikeWeight                 int
	CommentWeight              int
	ShareWeight                int
	CacheTTL                   time.Duration
	BatchSize                  int
	BatchRetries               int
	InactivityThreshold        time.Duration
	Retention                  time.Duration
	DefaultPageSize            int
	MaxPageSize                int
	FetchLimit                 int
	InteractedBlockCap         int
	JitterMax                  float64
	EnableFollowFanout         bool
}

func DefaultOptions() Options {
	return Options{
		CelebrityFollowerThreshold: 1000,
		CelebrityFanoutCap:         100,
		RecencyWindow:              30 * 24 * time.Hour,
		RecencyDecay:               7 * 24 * time.Hour,
		LikeWeight:                 1,
		CommentWeight:              2,
		ShareWeight:                3,
		CacheTTL:                   10 * time.Minute,
		BatchSize:                  100,
		BatchRetries:               3,
		InactivityThreshold:        7 * 24 * time.Hour,
		Retention:                  90 * 24 * time.Hour,
		DefaultPageSize:            20,
		MaxPageSize:                50,
		FetchLimit:                 300,
		InteractedBlockCap:         5,
		JitterMax:                  0.01,
		EnableFollowFanout:         true,
	}
}

// OptionsFromAppConfig overlays the YAML config onto the defaults. Zero
// valued fields in the config keep the default.
func OptionsFromAppConfig(c app_config.FeedAppConfig) Options {
	o := DefaultOptions()
	if c.CELEBRITY_FOLLOWER_THRESHOLD > 0 {
		o.CelebrityFollowerThreshold = c.CELEBRITY_FOLLOWER_THRESHOLD
	}
	if c.CELEBRITY_FANOUT_CAP > 0 {
		o.CelebrityFanoutCap = c.CELEBRITY_FANOUT_CAP
	}
	if c.RECENCY_WINDOW_DAYS > 0 {
		o.RecencyWindow = time.Duration(c.RECENCY_WINDOW_DAYS) * 24 * time.Hour
	}
	if c.RECENCY_DECAY_DAYS > 0 {
		o.RecencyDecay = time.Duration(c.RECENCY_DECAY_DAYS) * 24 * time.Hour
	}
	if c.LIKE_WEIGHT > 0 {
		o.LikeWeight = c.LIKE_WEIGHT
	}
	if c.COMMENT_WEIGHT > 0 {
		o.CommentWeight = c.COMMENT_WEIGHT
	}
	if c.SHARE_WEIGHT > 0 {
		o.ShareWeight = c.SHARE_WEIGHT
	}
	if c.CACHE_TTL_SECONDS > 0 {
		o.CacheTTL = time.Duration(c.CACHE_TTL_SECONDS) * time.Second
	}
	if c.DISTRIBUTION_BATCH_SIZE > 0 {
		o.BatchSize = c.DISTRIBUTION_BATCH_SIZE
	}
	if c.DISTRIBUTION_BATCH_RETRIES > 0 {
		o.BatchRetries = c.DISTRIBUTION_BATCH_RETRIES
	}
	if c.INACTIVITY_THRESHOLD_DAYS > 0 {
		o.InactivityThreshold = time.Duration(c.INACTIVITY_THRESHOLD_DAYS) * 24 * time.Hour
	}
	if c.CLEANUP_RETENTION_DAYS > 0 {
		o.Retention = time.Duration(c.CLEANUP_RETENTION_DAYS) * 24 * time.Hour
	}
	if c.DEFAULT_PAGE_SIZE > 0 {
		o.DefaultPageSize = c.DEFAULT_PAGE_SIZE
	}
	if c.MAX_PAGE_SIZE > 0 {
		o.MaxPageSize = c.MAX_PAGE_SIZE
	}
	if c.FETCH_LIMIT > 0 {
		o.FetchLimit = c.FETCH_LIMIT
	}
	if c.INTERACTED_BLOCK_CAP > 0 {
		o.InteractedBlockCap = c.INTERACTED_BLOCK_CAP
	}
	if c.JITTER_MAX > 0 {
		o.JitterMax = c.JITTER_MAX
	}
	if c.DISABLE_FOLLOW_FANOUT {
		o.EnableFollowFanout = false
	}
	return o
}
