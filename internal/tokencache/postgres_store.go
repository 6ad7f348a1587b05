package tokencache

import (
	"context"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// tokenRecord is the single table a PostgresStore owns.
type tokenRecord struct {
	Digest string `gorm:"primaryKey;size:64"`
	Token  string
}

func (tokenRecord) TableName() string { return "gateway_tokens" }

// PostgresStore persists the token table in a Postgres database,
// for deployments that already run the bot's other state there
// rather than on local disk.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens databaseURL and migrates the token table.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tokenRecord{}); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Lookup implements Store.
func (s *PostgresStore) Lookup(ctx context.Context, identity, secret string) (string, bool, error) {
	var rec tokenRecord
	err := s.db.WithContext(ctx).First(&rec, "digest = ?", digest(identity, secret)).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return rec.Token, true, nil
}

// Store implements Store.
func (s *PostgresStore) Store(ctx context.Context, identity, secret, token string) error {
	rec := tokenRecord{Digest: digest(identity, secret), Token: token}
	return s.db.WithContext(ctx).Save(&rec).Error
}
