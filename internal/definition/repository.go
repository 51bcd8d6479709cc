package definition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite opens (creating if needed) the sqlite database at path.
// A nil gorm logger silences statement logging.
func OpenSQLite(path string, log gormlogger.Interface) (*gorm.DB, error) {
	if log == nil {
		log = gormlogger.Default.LogMode(gormlogger.Silent)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:                 log,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// GormRepository stores definitions through GORM
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates or updates the definitions table.
func (r *GormRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Definition{})
}

func (r *GormRepository) Create(ctx context.Context, d *Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("failed to create definition: %w", err)
	}
	return nil
}

func (r *GormRepository) FindByID(ctx context.Context, id uuid.UUID) (*Definition, error) {
	var d Definition
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	return &d, nil
}

// List returns every definition, highest priority first and then oldest
// first.
func (r *GormRepository) List(ctx context.Context) ([]Definition, error) {
	var out []Definition
	err := r.db.WithContext(ctx).
		Order("priority DESC").
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	return out, nil
}

// UpdateConfigs replaces the stored configuration text of a definition.
func (r *GormRepository) UpdateConfigs(ctx context.Context, id uuid.UUID, threadGroup, server string) error {
	return r.update(ctx, id, map[string]any{
		"thread_group_config": threadGroup,
		"server_config":       server,
	})
}

func (r *GormRepository) SetMaterializedKey(ctx context.Context, id uuid.UUID, key string) error {
	return r.update(ctx, id, map[string]any{"materialized_key": key})
}

func (r *GormRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Definition{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete definition: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) update(ctx context.Context, id uuid.UUID, values map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&Definition{}).
		Where("id = ?", id).
		Updates(values)
	if result.Error != nil {
		return fmt.Errorf("failed to update definition: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
