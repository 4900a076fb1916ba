package repository

import (
	"context"
	"strings"
	"time"

	"github.com/gleamora/push-pipeline/internal/domain"
	"gorm.io/gorm"
)

// DeviceStore resolves a user's currently-eligible push registrations and
// maintains device health flags.
type DeviceStore interface {
	// EligibleByUser returns the user's devices that may receive kind.
	// An empty result is not an error; the builder excludes such users.
	EligibleByUser(ctx context.Context, userID string, kind domain.Kind) ([]domain.Device, error)
	// Deactivate permanently disables a device whose registration the
	// provider reported as invalid or expired.
	Deactivate(ctx context.Context, deviceID string) error
	// MarkTokenUnhealthy flags a token without deactivating the device.
	MarkTokenUnhealthy(ctx context.Context, deviceID string) error
}

type GormDeviceStore struct {
	db *gorm.DB
}

func NewGormDeviceStore(db *gorm.DB) *GormDeviceStore {
	return &GormDeviceStore{db: db}
}

func (s *GormDeviceStore) EligibleByUser(ctx context.Context, userID string, kind domain.Kind) ([]domain.Device, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}

	var devices []domain.Device
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active AND token_healthy AND notifications_enabled", userID).
		Find(&devices).Error
	if err != nil {
		return nil, err
	}

	// Category preferences are domain logic; filter here rather than in SQL.
	eligible := devices[:0]
	for i := range devices {
		if devices[i].EligibleFor(kind) {
			eligible = append(eligible, devices[i])
		}
	}

	return eligible, nil
}

func (s *GormDeviceStore) Deactivate(ctx context.Context, deviceID string) error {
	return s.db.WithContext(ctx).
		Model(&domain.Device{}).
		Where("id = ?", deviceID).
		Updates(map[string]any{
			"active":     false,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *GormDeviceStore) MarkTokenUnhealthy(ctx context.Context, deviceID string) error {
	return s.db.WithContext(ctx).
		Model(&domain.Device{}).
		Where("id = ?", deviceID).
		Updates(map[string]any{
			"token_healthy": false,
			"updated_at":    time.Now().UTC(),
		}).Error
}
