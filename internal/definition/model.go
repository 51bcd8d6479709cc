// Package definition persists test definitions: an uploaded plan, its
// optional CSV dataset and the configuration applied to them.
package definition

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no definition has the requested ID.
var ErrNotFound = errors.New("definition not found")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Definition is one stored test. ThreadGroupConfig and ServerConfig hold the
// JSON text of the configuration objects and are decoded leniently on use.
type Definition struct {
	ID                uuid.UUID `gorm:"type:varchar(36);primaryKey"`
	Name              string    `gorm:"size:200;not null;index" validate:"required,max=200"`
	Description       string    `gorm:"type:text"`
	PlanKey           string    `gorm:"size:512;not null" validate:"required"`
	CSVKey            string    `gorm:"size:512"`
	MaterializedKey   string    `gorm:"size:512"`
	ThreadGroupConfig string    `gorm:"type:text"`
	ServerConfig      string    `gorm:"type:text"`
	UserCount         int       `validate:"gte=0"`
	RequiresCSV       bool
	Priority          int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TableName specifies the table name for GORM
func (Definition) TableName() string {
	return "definitions"
}

// BeforeCreate assigns an ID when the caller did not.
func (d *Definition) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid definition: %w", err)
	}
	if d.RequiresCSV && d.CSVKey == "" {
		return errors.New("invalid definition: a CSV dataset is required")
	}
	return nil
}

// SourceKey is the artifact a download starts from: the materialized plan
// when one exists, otherwise the uploaded original.
func (d *Definition) SourceKey() string {
	if d.MaterializedKey != "" {
		return d.MaterializedKey
	}
	return d.PlanKey
}
