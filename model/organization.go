package model

import (
	"time"

	"gorm.io/gorm"
)

/*

University and Company are the two organization types a post can be
published into. They are separate tables rather than a single polymorphic
one so that membership and admin joins stay plain foreign keys.

Admins: users that manage the organization, "many-to-many" relation.
	Admins see private organization posts regardless of membership.
IsPrivate: hides the organization from public directory listings. Feed
	visibility is decided per post, not per organization.
*/

type University struct {
	Id          string `gorm:"primaryKey"`
	CreatedAt   time.Time
	DeletedAt   gorm.DeletedAt
	Name        string
	Description string
	IsPrivate   bool
	Admins      []*User `gorm:"many2many:university_admins;"`
}

type Company struct {
	Id          string `gorm:"primaryKey"`
	CreatedAt   time.Time
	DeletedAt   gorm.DeletedAt
	Name        string
	Description string
	IsPrivate   bool
	Admins      []*User `gorm:"many2many:company_admins;"`
}

// Department is a sub-division of a University. It never gates
// distribution, only read-time filtering.
type Department struct {
	Id           string `gorm:"primaryKey"`
	CreatedAt    time.Time
	Name         string
	UniversityID string      `gorm:"index"`
	University   *University `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}
