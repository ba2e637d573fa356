package app_config

import (
	"io/ioutil"
	"log"

	"gopkg.in/yaml.v2"
)

// This is the tuning config for the feed pipeline. Zero values mean "use
// the built-in default", so a partial YAML file is fine.
type FeedAppConfig struct {
	// A post whose audience exceeds this many users is handled as a
	// celebrity post: partial push plus a read-time pull marker.
	CELEBRITY_FOLLOWER_THRESHOLD int `yaml:"CELEBRITY_FOLLOWER_THRESHOLD"`
	// How many of the most active recipients still get a pushed entry for
	// a celebrity post.
	CELEBRITY_FANOUT_CAP int `yaml:"CELEBRITY_FANOUT_CAP"`
	// Posts older than this many days never enter a feed.
	RECENCY_WINDOW_DAYS int `yaml:"RECENCY_WINDOW_DAYS"`
	// Days over which the recency score decays from 10 to 0.
	RECENCY_DECAY_DAYS int `yaml:"RECENCY_DECAY_DAYS"`
	LIKE_WEIGHT        int `yaml:"LIKE_WEIGHT"`
	COMMENT_WEIGHT     int `yaml:"COMMENT_WEIGHT"`
	SHARE_WEIGHT       int `yaml:"SHARE_WEIGHT"`
	// First-page cache lifetime.
	CACHE_TTL_SECONDS int `yaml:"CACHE_TTL_SECONDS"`
	// Fan-out writes are chunked into batches of this size.
	DISTRIBUTION_BATCH_SIZE int `yaml:"DISTRIBUTION_BATCH_SIZE"`
	// Attempts per batch before the batch is abandoned.
	DISTRIBUTION_BATCH_RETRIES int `yaml:"DISTRIBUTION_BATCH_RETRIES"`
	// Users idle longer than this many days get their feed rebuilt by the
	// maintenance job.
	INACTIVITY_THRESHOLD_DAYS int `yaml:"INACTIVITY_THRESHOLD_DAYS"`
	// Feed entries whose post is older than this many days are purged.
	CLEANUP_RETENTION_DAYS int `yaml:"CLEANUP_RETENTION_DAYS"`
	DEFAULT_PAGE_SIZE      int `yaml:"DEFAULT_PAGE_SIZE"`
	MAX_PAGE_SIZE          int `yaml:"MAX_PAGE_SIZE"`
	// Per-source candidate cap when assembling a feed.
	FETCH_LIMIT int `yaml:"FETCH_LIMIT"`
	// Size of the pinned recently-interacted block.
	INTERACTED_BLOCK_CAP int     `yaml:"INTERACTED_BLOCK_CAP"`
	JITTER_MAX           float64 `yaml:"JITTER_MAX"`
	// Set true for deployments without a follow graph; organization
	// fan-out still runs.
	DISABLE_FOLLOW_FANOUT bool `yaml:"DISABLE_FOLLOW_FANOUT"`
	// Cron specs for the maintenance binary.
	MAINTENANCE_REBUILD_SPEC string `yaml:"MAINTENANCE_REBUILD_SPEC"`
	MAINTENANCE_CLEANUP_SPEC string `yaml:"MAINTENANCE_CLEANUP_SPEC"`
}

func ParseFeedAppConfig(path string) FeedAppConfig {
	c := FeedAppConfig{}
	yamlFile, err := ioutil.ReadFile(path)
	if err != nil {
		log.Fatal("yamlFile. get err: ", err.Error())
	}
	err = yaml.Unmarshal(yamlFile, &c)
	if err != nil {
		log.Fatal("Unmarshal: ", err)
	}
	return c
}
