package model

import (
	"time"
)

const (
	MembershipRoleMember = "member"
	MembershipRoleAdmin  = "admin"
)

/*

OrganizationMembership ties a user to exactly one organization, either a
University or a Company. The check constraint enforces the either-or at
the database level; the unique indexes make joining twice a no-op.

DepartmentID is only meaningful for university memberships and is used as
an optional read-time feed filter.
*/

type OrganizationMembership struct {
	Id           string `gorm:"primaryKey"`
	CreatedAt    time.Time
	UserID       string      `gorm:"index;uniqueIndex:ux_memberships_user_university;uniqueIndex:ux_memberships_user_company"`
	User         *User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	UniversityID *string     `gorm:"uniqueIndex:ux_memberships_user_university;check:chk_memberships_single_org,(university_id IS NULL) <> (company_id IS NULL)"`
	University   *University `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	CompanyID    *string     `gorm:"uniqueIndex:ux_memberships_user_company"`
	Company      *Company    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	DepartmentID *string
	Department   *Department `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Role         string      `gorm:"default:member"`
	JoinedAt     time.Time
}
