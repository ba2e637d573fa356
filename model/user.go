package model

import (
	"time"

	"gorm.io/gorm"
)

// User is the model for a platform account.
// LastActiveAt is bumped on every authenticated request and drives the
// inactive-feed rebuild job.
type User struct {
	Id           string `gorm:"primaryKey"`
	CreatedAt    time.Time
	DeletedAt    gorm.DeletedAt
	Name         string
	AvatarUrl    string
	LastActiveAt time.Time `gorm:"index"`
}
