package draftstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/books_reconcile/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Draft is one persisted draft row.
type Draft struct {
	Scope     models.DraftScope `gorm:"primaryKey;size:32"`
	DraftKey  string            `gorm:"primaryKey;size:64"`
	Payload   string            `gorm:"type:longtext;not null"`
	ExpiresAt *time.Time        `gorm:"index"`
	CreatedAt time.Time         `gorm:"autoCreateTime"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime"`
}

// GormStore keeps drafts in MySQL so they survive restarts.
type GormStore struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB, ttl time.Duration) *GormStore {
	return &GormStore{db: db, ttl: ttl, now: time.Now}
}

func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&Draft{})
}

func (s *GormStore) Save(ctx context.Context, scope models.DraftScope, key string, draft any) error {
	if _, err := storageKey(scope, key); err != nil {
		return err
	}
	payload, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	row := Draft{Scope: scope, DraftKey: key, Payload: string(payload)}
	if s.ttl > 0 {
		expiresAt := s.now().Add(s.ttl)
		row.ExpiresAt = &expiresAt
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "draft_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "expires_at", "updated_at"}),
	}).Create(&row).Error
}

func (s *GormStore) Load(ctx context.Context, scope models.DraftScope, key string, dest any) (bool, error) {
	if _, err := storageKey(scope, key); err != nil {
		return false, err
	}
	var row Draft
	err := s.db.WithContext(ctx).Where("scope = ? AND draft_key = ?", scope, key).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if row.ExpiresAt != nil && s.now().After(*row.ExpiresAt) {
		return false, s.Clear(ctx, scope, key)
	}
	if err := json.Unmarshal([]byte(row.Payload), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *GormStore) Clear(ctx context.Context, scope models.DraftScope, key string) error {
	if _, err := storageKey(scope, key); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("scope = ? AND draft_key = ?", scope, key).Delete(&Draft{}).Error
}

// PurgeExpired deletes drafts past their expiry.
func (s *GormStore) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at < ?", s.now()).Delete(&Draft{})
	return result.RowsAffected, result.Error
}
