package model

import (
	"time"
)

// Like is a unique (post, user) reaction. Re-liking is an upsert no-op.
type Like struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	PostID    string `gorm:"index;uniqueIndex:ux_likes_post_user"`
	Post      *Post  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	UserID    string `gorm:"uniqueIndex:ux_likes_post_user"`
	User      *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

type Comment struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	PostID    string `gorm:"index"`
	Post      *Post  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	AuthorID  string `gorm:"index"`
	Author    *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Content   string
}

// Share records a user forwarding a post. SharedWith is a free-form
// destination label, kept verbatim from the client.
type Share struct {
	Id         string `gorm:"primaryKey"`
	CreatedAt  time.Time
	PostID     string `gorm:"index"`
	Post       *Post  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	UserID     string `gorm:"index"`
	User       *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	SharedWith string
}
