package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/photocampus/feedengine/model"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens an in-memory sqlite database with the full schema
// migrated. Every test gets an isolated database, nothing to clean up.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	DatabaseSetupAndMigration(db)
	return db
}

// create user with name, do sanity checks and returns the row
func TestCreateUser(t *testing.T, db *gorm.DB, name string) *model.User {
	user := &model.User{
		Id:           uuid.New().String(),
		Name:         name,
		LastActiveAt: time.Now(),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestCreateUniversity(t *testing.T, db *gorm.DB, name string, isPrivate bool) *model.University {
	university := &model.University{
		Id:        uuid.New().String(),
		Name:      name,
		IsPrivate: isPrivate,
	}
	require.NoError(t, db.Create(university).Error)
	return university
}

func TestCreateCompany(t *testing.T, db *gorm.DB, name string, isPrivate bool) *model.Company {
	company := &model.Company{
		Id:        uuid.New().String(),
		Name:      name,
		IsPrivate: isPrivate,
	}
	require.NoError(t, db.Create(company).Error)
	return company
}

func TestCreateDepartment(t *testing.T, db *gorm.DB, university *model.University, name string) *model.Department {
	department := &model.Department{
		Id:           uuid.New().String(),
		Name:         name,
		UniversityID: university.Id,
	}
	require.NoError(t, db.Create(department).Error)
	return department
}

// join user into a university, optionally tagged with a department
func TestJoinUniversity(t *testing.T, db *gorm.DB, user *model.User, university *model.University, departmentID *string) *model.OrganizationMembership {
	membership := &model.OrganizationMembership{
		Id:           uuid.New().String(),
		UserID:       user.Id,
		UniversityID: &university.Id,
		DepartmentID: departmentID,
		Role:         model.MembershipRoleMember,
		JoinedAt:     time.Now(),
	}
	require.NoError(t, db.Create(membership).Error)
	return membership
}

func TestJoinCompany(t *testing.T, db *gorm.DB, user *model.User, company *model.Company) *model.OrganizationMembership {
	membership := &model.OrganizationMembership{
		Id:        uuid.New().String(),
		UserID:    user.Id,
		CompanyID: &company.Id,
		Role:      model.MembershipRoleMember,
		JoinedAt:  time.Now(),
	}
	require.NoError(t, db.Create(membership).Error)
	return membership
}

func TestFollow(t *testing.T, db *gorm.DB, follower *model.User, followee *model.User) {
	require.NoError(t, db.Create(&model.Follow{
		Id:         uuid.New().String(),
		FollowerID: follower.Id,
		FolloweeID: followee.Id,
	}).Error)
}

// create a public personal post backdated to createdAt
func TestCreatePost(t *testing.T, db *gorm.DB, author *model.User, title string, createdAt time.Time) *model.Post {
	post := &model.Post{
		Id:       uuid.New().String(),
		AuthorID: author.Id,
		Title:    title,
		Content:  title + " content",
	}
	require.NoError(t, db.Create(post).Error)
	// gorm stamps CreatedAt on insert, backdate explicitly
	require.NoError(t, db.Model(post).UpdateColumn("created_at", createdAt).Error)
	post.CreatedAt = createdAt
	return post
}

func TestCreateUniversityPost(t *testing.T, db *gorm.DB, author *model.User, university *model.University, departmentID *string, title string, createdAt time.Time) *model.Post {
	post := TestCreatePost(t, db, author, title, createdAt)
	require.NoError(t, db.Model(post).UpdateColumns(map[string]interface{}{
		"university_id": university.Id,
		"department_id": departmentID,
	}).Error)
	post.UniversityID = &university.Id
	post.DepartmentID = departmentID
	return post
}

func TestCreateCompanyPost(t *testing.T, db *gorm.DB, author *model.User, company *model.Company, title string, createdAt time.Time) *model.Post {
	post := TestCreatePost(t, db, author, title, createdAt)
	require.NoError(t, db.Model(post).UpdateColumn("company_id", company.Id).Error)
	post.CompanyID = &company.Id
	return post
}

func TestMarkPostPrivate(t *testing.T, db *gorm.DB, post *model.Post) {
	require.NoError(t, db.Model(post).UpdateColumn("is_private", true).Error)
	post.IsPrivate = true
}

func TestLikePost(t *testing.T, db *gorm.DB, user *model.User, post *model.Post) {
	require.NoError(t, db.Create(&model.Like{
		Id:     uuid.New().String(),
		PostID: post.Id,
		UserID: user.Id,
	}).Error)
}

func TestCommentPost(t *testing.T, db *gorm.DB, user *model.User, post *model.Post, content string) {
	require.NoError(t, db.Create(&model.Comment{
		Id:       uuid.New().String(),
		PostID:   post.Id,
		AuthorID: user.Id,
		Content:  content,
	}).Error)
}

func TestSharePost(t *testing.T, db *gorm.DB, user *model.User, post *model.Post) {
	require.NoError(t, db.Create(&model.Share{
		Id:     uuid.New().String(),
		PostID: post.Id,
		UserID: user.Id,
	}).Error)
}
