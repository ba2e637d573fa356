package model

import (
	"time"
)

// UniversityAdmin is the join table behind University.Admins.
type UniversityAdmin struct {
	UniversityID string `gorm:"primaryKey"`
	UserID       string `gorm:"primaryKey"`
	CreatedAt    time.Time
}

// CompanyAdmin is the join table behind Company.Admins.
type CompanyAdmin struct {
	CompanyID string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	CreatedAt time.Time
}
