package feed

import (
	"math/rand"
	"sync"
	"time"

	"github.com/photocampus/feedengine/model"
)

const (
	recencyScoreMax = 10.0
	engagementMax   = 5.0
	// Weighted engagement is divided by this before capping, so ~50
	// weighted interactions saturate the engagement component.
	engagementNormalizer = 10.0
	orgAffinityBonus     = 5.0
)

// EngagementCounts carries the live interaction counters for one post.
type EngagementCounts struct {
	Likes    int
	Comments int
	Shares   int
}

/*

Scorer computes the relevance score persisted on feed entries.

score = recency + engagement + organization affinity + jitter

recency: 10 at publication, decaying linearly to 0 over RecencyDecay.
	Continuous, so a 12-hour-old post outranks an 18-hour-old one.
engagement: weighted count (likes + 2*comments + 3*shares by default)
	divided by 10, capped at 5. Monotonic in every counter until the cap.
organization affinity: flat +5 when the post belongs to an organization
	the feed owner is a member of.
jitter: uniform in [0, JitterMax) so equal-scored posts do not always
	render in the same order. Small enough to never reorder posts that
	differ by a real signal. Only ScoreWithJitter applies it: jitter is
	frozen into stored entries at write time, read-time re-scoring stays
	deterministic so identical requests return identical pages.

Scorer is pure with respect to storage, callers fetch the inputs. The
jitter source is injected so tests can fix the seed.
*/

type Scorer struct {
	opts Options

	mu  sync.Mutex
	rng *rand.Rand
}

func NewScorer(opts Options, rng *rand.Rand) *Scorer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scorer{opts: opts, rng: rng}
}

// Score computes the deterministic relevance score for a post landing in
// the feed of a user whose organization memberships are given as a set
// of org ids.
func (s *Scorer) Score(post *model.Post, counts EngagementCounts, memberOrgIDs map[string]bool, now time.Time) float64 {
	score := s.RecencyScore(post.CreatedAt, now)
	score += s.EngagementScore(counts)
	if s.orgAffinity(post, memberOrgIDs) {
		score += orgAffinityBonus
	}
	return score
}

// ScoreWithJitter is Score plus the tie-breaking jitter, used when a
// score is persisted onto a feed entry.
func (s *Scorer) ScoreWithJitter(post *model.Post, counts EngagementCounts, memberOrgIDs map[string]bool, now time.Time) float64 {
	return s.Score(post, counts, memberOrgIDs, now) + s.jitter()
}

// RecencyScore decays from 10 to 0 over the configured decay window.
func (s *Scorer) RecencyScore(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age <= 0 {
		return recencyScoreMax
	}
	if age >= s.opts.RecencyDecay {
		return 0
	}
	return recencyScoreMax * (1 - float64(age)/float64(s.opts.RecencyDecay))
}

// WeightedEngagement is the raw weighted interaction count. The
// engagement ordering sorts on this, uncapped.
func (s *Scorer) WeightedEngagement(counts EngagementCounts) int {
	return s.opts.LikeWeight*counts.Likes +
		s.opts.CommentWeight*counts.Comments +
		s.opts.ShareWeight*counts.Shares
}

// EngagementScore normalizes and caps the weighted count for the
// composite score.
func (s *Scorer) EngagementScore(counts EngagementCounts) float64 {
	normalized := float64(s.WeightedEngagement(counts)) / engagementNormalizer
	if normalized > engagementMax {
		return engagementMax
	}
	return normalized
}

func (s *Scorer) orgAffinity(post *model.Post, memberOrgIDs map[string]bool) bool {
	if post.UniversityID != nil && memberOrgIDs[*post.UniversityID] {
		return true
	}
	if post.CompanyID != nil && memberOrgIDs[*post.CompanyID] {
		return true
	}
	return false
}

func (s *Scorer) jitter() float64 {
	if s.opts.JitterMax <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() * s.opts.JitterMax
}
