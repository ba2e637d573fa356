// database_utils should be the canonical place to put shared DB utils.
// It should not include:
// 1. Any util that doesn't manipulate DB
// 2. Any util that contains business logic
package utils

import (
	"fmt"
	"os"

	"github.com/photocampus/feedengine/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormTransaction is the callback function used during db.Transaction in Gorm.
type GormTransaction func(tx *gorm.DB) error

// GetDBConnection get a connection to the database specified by env
func GetDBConnection() (*gorm.DB, error) {
	return GetCustomizedConnection(os.Getenv("DB_NAME"))
}

// GetCustomizedConnection connect to any db
func GetCustomizedConnection(dbName string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		os.Getenv("DB_HOST"), os.Getenv("DB_USER"), os.Getenv("DB_PASS"), dbName, os.Getenv("DB_PORT"))
	return getDB(dsn)
}

func getDB(connectionString string) (db *gorm.DB, err error) {
	return gorm.Open(postgres.Open(connectionString), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// DatabaseSetupAndMigration wires the admin join tables and migrates every
// model the feed pipeline touches. Safe to run repeatedly.
func DatabaseSetupAndMigration(db *gorm.DB) {
	var err error

	err = db.SetupJoinTable(&model.University{}, "Admins", &model.UniversityAdmin{})
	if err != nil {
		panic("failed to connect database when build many2many relationship with Universities and Users")
	}

	err = db.SetupJoinTable(&model.Company{}, "Admins", &model.CompanyAdmin{})
	if err != nil {
		panic("failed to connect database when build many2many relationship with Companies and Users")
	}

	err = db.AutoMigrate(
		&model.User{},
		&model.University{},
		&model.Company{},
		&model.Department{},
		&model.OrganizationMembership{},
		&model.Follow{},
		&model.Post{},
		&model.Like{},
		&model.Comment{},
		&model.Share{},
		&model.FeedEntry{},
		&model.CelebrityPostCache{},
	)
	if err != nil {
		panic("failed to migrate database: " + err.Error())
	}
}
