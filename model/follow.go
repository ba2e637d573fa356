package model

import (
	"time"
)

// Follow is a directed edge: Follower receives Followee's personal posts.
// Self-follows are rejected by the check constraint.
type Follow struct {
	Id         string `gorm:"primaryKey"`
	CreatedAt  time.Time
	FollowerID string `gorm:"index;uniqueIndex:ux_follows_pair;check:chk_follows_no_self,follower_id <> followee_id"`
	Follower   *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	FolloweeID string `gorm:"index;uniqueIndex:ux_follows_pair"`
	Followee   *User  `gorm:"foreignKey:FolloweeID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}
