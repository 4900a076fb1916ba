package repository

import (
	"context"

	"github.com/gleamora/push-pipeline/internal/domain"
	"gorm.io/gorm"
)

// DeliveryStore persists per-send audit records.
type DeliveryStore interface {
	Record(ctx context.Context, record *domain.DeliveryRecord) error
	ListByRequestID(ctx context.Context, requestID string) ([]domain.DeliveryRecord, error)
}

type GormDeliveryStore struct {
	db *gorm.DB
}

func NewGormDeliveryStore(db *gorm.DB) *GormDeliveryStore {
	return &GormDeliveryStore{db: db}
}

func (s *GormDeliveryStore) Record(ctx context.Context, record *domain.DeliveryRecord) error {
	model := deliveryRecordModelFromDomain(record)
	if model == nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if record != nil {
		*record = *deliveryRecordModelToDomain(model)
	}
	return nil
}

func (s *GormDeliveryStore) ListByRequestID(ctx context.Context, requestID string) ([]domain.DeliveryRecord, error) {
	var models []DeliveryRecordModel
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *deliveryRecordModelToDomain(&models[i]))
	}

	return records, nil
}
