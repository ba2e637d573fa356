package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/*

Post is a piece of content published by a user, optionally into an
organization.

Id: primary key
CreatedAt: publication time, the anchor for recency scoring and the
	30-day feed window
UniversityID:
CompanyID:
	at most one may be set ("single_org" check constraint). Both null
	means a personal post distributed along Follow edges; one set means
	an organization post distributed to that organization's members.
DepartmentID: optional sub-division tag on university posts. Never
	restricts distribution, only read-time filtering.
IsPrivate:
	personal post: visible to the author only
	organization post: visible to members and admins of that organization
EventName/EventDate/Location: optional event metadata carried through to
	feed payloads untouched.
*/

type Post struct {
	Id           string    `gorm:"primaryKey"`
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt
	AuthorID     string `gorm:"index"`
	Author       *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Title        string
	Content      string
	IsPrivate    bool
	UniversityID *string     `gorm:"index;check:chk_posts_single_org,university_id IS NULL OR company_id IS NULL"`
	University   *University `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	CompanyID    *string     `gorm:"index"`
	Company      *Company    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	DepartmentID *string
	Department   *Department `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Location     string
	EventName    string
	EventDate    *datatypes.Date
}

// IsOrganizationPost reports whether the post was published into a
// university or company rather than to the author's followers.
func (p *Post) IsOrganizationPost() bool {
	return p.UniversityID != nil || p.CompanyID != nil
}
