package repository

import (
	"context"
	"fmt"

	"github.com/gleamora/push-pipeline/internal/domain"
	"gorm.io/gorm"
)

// Targeter resolves targeting criteria to a set of user ids.
type Targeter interface {
	ResolveUsersByCriteria(ctx context.Context, criteria domain.TargetCriteria) ([]string, error)
}

type GormTargeter struct {
	db *gorm.DB
}

func NewGormTargeter(db *gorm.DB) *GormTargeter {
	return &GormTargeter{db: db}
}

func (t *GormTargeter) ResolveUsersByCriteria(ctx context.Context, criteria domain.TargetCriteria) ([]string, error) {
	query := t.db.WithContext(ctx).Model(&UserModel{})

	if criteria.Segment != "" {
		query = query.Where("segment = ?", criteria.Segment)
	}
	for _, tag := range criteria.Tags {
		query = query.Where("tags @> ?", fmt.Sprintf(`["%s"]`, tag))
	}
	if criteria.MinOrderCount > 0 {
		query = query.Where("orders_count >= ?", criteria.MinOrderCount)
	}
	if criteria.ActiveSince != nil {
		query = query.Where("last_active_at >= ?", *criteria.ActiveSince)
	}

	var ids []string
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	return ids, nil
}
