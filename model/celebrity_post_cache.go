package model

import (
	"time"
)

// CelebrityPostCache marks a post whose audience exceeded the fan-out
// threshold. Such posts are only partially pushed; feed assembly pulls
// the markers for authors the reader follows and merges them at read
// time. One marker per post.
type CelebrityPostCache struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	AuthorID  string `gorm:"index"`
	Author    *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	PostID    string `gorm:"uniqueIndex:ux_celebrity_post_cache_post"`
	Post      *Post  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}
