package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/gleamora/push-pipeline/internal/domain"
	"gorm.io/gorm"
)

// TemplateStore looks up content templates. Only active templates are
// usable by the pipeline.
type TemplateStore interface {
	FindActiveByID(ctx context.Context, id string) (*domain.Template, error)
}

type GormTemplateStore struct {
	db *gorm.DB
}

func NewGormTemplateStore(db *gorm.DB) *GormTemplateStore {
	return &GormTemplateStore{db: db}
}

func (s *GormTemplateStore) FindActiveByID(ctx context.Context, id string) (*domain.Template, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrNotFound
	}

	var template domain.Template
	err := s.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.TemplateStatusActive).
		First(&template).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &template, nil
}
