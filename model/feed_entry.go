package model

import (
	"time"
)

/*

FeedEntry is one precomputed home-feed row: "post P sits in user U's feed
with score S". Written by the distribution engine at post-creation time
and by the maintenance rebuild jobs; read by the feed assembler.

The (user, post) unique index is the idempotency key for the whole
distribution pipeline: re-running a fan-out upserts with DoNothing and
cannot duplicate rows.

Score: frozen at write time. Ranking reorders on live engagement counts,
	so a stale Score only affects the stored default ordering.
Interacted: set when the owner likes/comments/shares the post. Interacted
	entries surface in the pinned block at the top of the feed.
Viewed: set on view events, reserved for unread-count features.
*/

type FeedEntry struct {
	Id         string    `gorm:"primaryKey"`
	CreatedAt  time.Time `gorm:"index:idx_feed_entries_user_created,priority:2"`
	UserID     string    `gorm:"index:idx_feed_entries_user_created,priority:1;uniqueIndex:ux_feed_entries_user_post"`
	User       *User     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	PostID     string    `gorm:"index;uniqueIndex:ux_feed_entries_user_post"`
	Post       *Post     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Score      float64
	Interacted bool
	Viewed     bool
}
