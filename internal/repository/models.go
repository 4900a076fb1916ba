package repository

import (
	"time"

	"github.com/gleamora/push-pipeline/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserModel is the minimal persistence shape the targeter needs; the full
// user record is owned by the storefront's account service.
type UserModel struct {
	ID           string   `gorm:"type:varchar(64);primaryKey"`
	Segment      string   `gorm:"type:varchar(64);index"`
	Tags         []string `gorm:"serializer:json;type:jsonb"`
	OrdersCount  int      `gorm:"not null;default:0"`
	LastActiveAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// DeliveryRecordModel is the persistence model for the delivery_records table.
type DeliveryRecordModel struct {
	ID                string              `gorm:"type:uuid;primaryKey"`
	RequestID         string              `gorm:"type:uuid;not null;index"`
	QueueID           string              `gorm:"type:uuid;not null;index"`
	TemplateID        string              `gorm:"type:varchar(64);not null"`
	DeliveryType      domain.DeliveryType `gorm:"type:varchar(16);not null"`
	UserID            string              `gorm:"type:varchar(64);index"`
	DeviceID          string              `gorm:"type:uuid"`
	TopicName         string              `gorm:"type:varchar(64)"`
	Attempt           int                 `gorm:"not null;default:1"`
	Success           bool                `gorm:"not null"`
	ProviderMessageID string              `gorm:"type:varchar(255)"`
	Error             string              `gorm:"type:text"`
	CreatedAt         time.Time
}

func (DeliveryRecordModel) TableName() string {
	return "delivery_records"
}

// BeforeCreate assigns the primary key; the queue builds records without ids.
func (m *DeliveryRecordModel) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

func deliveryRecordModelFromDomain(r *domain.DeliveryRecord) *DeliveryRecordModel {
	if r == nil {
		return nil
	}
	return &DeliveryRecordModel{
		ID:                r.ID,
		RequestID:         r.RequestID,
		QueueID:           r.QueueID,
		TemplateID:        r.TemplateID,
		DeliveryType:      r.DeliveryType,
		UserID:            r.UserID,
		DeviceID:          r.DeviceID,
		TopicName:         r.TopicName,
		Attempt:           r.Attempt,
		Success:           r.Success,
		ProviderMessageID: r.ProviderMessageID,
		Error:             r.Error,
		CreatedAt:         r.CreatedAt,
	}
}

func deliveryRecordModelToDomain(m *DeliveryRecordModel) *domain.DeliveryRecord {
	if m == nil {
		return nil
	}
	return &domain.DeliveryRecord{
		ID:                m.ID,
		RequestID:         m.RequestID,
		QueueID:           m.QueueID,
		TemplateID:        m.TemplateID,
		DeliveryType:      m.DeliveryType,
		UserID:            m.UserID,
		DeviceID:          m.DeviceID,
		TopicName:         m.TopicName,
		Attempt:           m.Attempt,
		Success:           m.Success,
		ProviderMessageID: m.ProviderMessageID,
		Error:             m.Error,
		CreatedAt:         m.CreatedAt,
	}
}
