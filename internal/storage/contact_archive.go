package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/model"
)

const (
	// DriverNameMongoDB identifies the MongoDB document store.
	DriverNameMongoDB = "mongodb"

	defaultListLimit = 50
	maximumListLimit = 500
)

var (
	// ErrArchiveDisabled indicates no persistence was configured for contact submissions.
	ErrArchiveDisabled = errors.New("storage: contact archive disabled")
	// ErrArchiveUnavailable indicates the archive was used before it was opened or after it was closed.
	ErrArchiveUnavailable = errors.New("storage: contact archive unavailable")
)

// ContactArchive keeps an append-only record of contact submissions.
type ContactArchive interface {
	RecordContact(ctx context.Context, submission model.ContactSubmission) error
	ListContacts(ctx context.Context, limit int) ([]model.ContactSubmission, error)
	Close() error
}

// ArchiveConfig selects the backend that stores contact submissions.
type ArchiveConfig struct {
	DriverName     string
	DataSourceName string
	DatabaseName   string
	CollectionName string
}

// ResolveDriverName infers the archive driver when none is configured.
func ResolveDriverName(driverName string, dataSourceName string) string {
	normalized := strings.ToLower(strings.TrimSpace(driverName))
	if normalized != "" {
		return normalized
	}
	trimmedDataSource := strings.ToLower(strings.TrimSpace(dataSourceName))
	switch {
	case strings.HasPrefix(trimmedDataSource, "mongodb://"), strings.HasPrefix(trimmedDataSource, "mongodb+srv://"):
		return DriverNameMongoDB
	case strings.HasPrefix(trimmedDataSource, "postgres://"), strings.HasPrefix(trimmedDataSource, "postgresql://"):
		return DriverNamePostgres
	default:
		return DriverNameSQLite
	}
}

// OpenContactArchive opens the configured archive. An empty data source name yields ErrArchiveDisabled.
func OpenContactArchive(ctx context.Context, configuration ArchiveConfig) (ContactArchive, error) {
	dataSourceName := strings.TrimSpace(configuration.DataSourceName)
	if dataSourceName == "" {
		return nil, ErrArchiveDisabled
	}

	driverName := ResolveDriverName(configuration.DriverName, dataSourceName)
	if driverName == DriverNameMongoDB {
		mongoArchive, mongoErr := OpenMongoContactArchive(ctx, MongoConfig{
			URI:            dataSourceName,
			DatabaseName:   configuration.DatabaseName,
			CollectionName: configuration.CollectionName,
		})
		if mongoErr != nil {
			return nil, mongoErr
		}
		return mongoArchive, nil
	}

	database, openErr := OpenDatabase(Config{DriverName: driverName, DataSourceName: dataSourceName})
	if openErr != nil {
		return nil, openErr
	}
	if migrateErr := AutoMigrate(database); migrateErr != nil {
		return nil, fmt.Errorf("storage: migrate: %w", migrateErr)
	}
	return NewGormContactArchive(database), nil
}

// GormContactArchive stores contact submissions in a relational database.
type GormContactArchive struct {
	database *gorm.DB
}

// NewGormContactArchive wraps an opened and migrated gorm database.
func NewGormContactArchive(database *gorm.DB) *GormContactArchive {
	return &GormContactArchive{database: database}
}

// RecordContact inserts the normalized submission once.
func (archive *GormContactArchive) RecordContact(ctx context.Context, submission model.ContactSubmission) error {
	if archive == nil || archive.database == nil {
		return ErrArchiveUnavailable
	}
	submission = submission.ArchiveRecord()
	if strings.TrimSpace(submission.ID) == "" {
		submission.ID = NewID()
	}
	if createErr := archive.database.WithContext(ctx).Create(&submission).Error; createErr != nil {
		return fmt.Errorf("storage: record contact: %w", createErr)
	}
	return nil
}

// ListContacts returns the most recent submissions first.
func (archive *GormContactArchive) ListContacts(ctx context.Context, limit int) ([]model.ContactSubmission, error) {
	if archive == nil || archive.database == nil {
		return nil, ErrArchiveUnavailable
	}
	var submissions []model.ContactSubmission
	queryErr := archive.database.WithContext(ctx).
		Order("submitted_at DESC").
		Limit(normalizeListLimit(limit)).
		Find(&submissions).Error
	if queryErr != nil {
		return nil, fmt.Errorf("storage: list contacts: %w", queryErr)
	}
	return submissions, nil
}

// Close releases the underlying connection pool.
func (archive *GormContactArchive) Close() error {
	if archive == nil || archive.database == nil {
		return nil
	}
	sqlDatabase, sqlErr := archive.database.DB()
	if sqlErr != nil {
		return sqlErr
	}
	return sqlDatabase.Close()
}

func normalizeListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maximumListLimit {
		return maximumListLimit
	}
	return limit
}
