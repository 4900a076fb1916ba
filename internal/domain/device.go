package domain

import "time"

// Device is one push registration owned by a user.
type Device struct {
	ID                   string `gorm:"type:uuid;primaryKey"`
	UserID               string `gorm:"type:varchar(64);not null;index"`
	Token                string `gorm:"type:text;not null"`
	Platform             string `gorm:"type:varchar(16)"`
	Active               bool   `gorm:"not null;default:true"`
	TokenHealthy         bool   `gorm:"not null;default:true"`
	NotificationsEnabled bool   `gorm:"not null;default:true"`
	OrderUpdatesEnabled  bool   `gorm:"not null;default:true"`
	PromotionsEnabled    bool   `gorm:"not null;default:true"`
	PriceAlertsEnabled   bool   `gorm:"not null;default:true"`
	StockAlertsEnabled   bool   `gorm:"not null;default:true"`
	LastSeenAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Eligible reports whether the device may receive any push at all.
func (d *Device) Eligible() bool {
	return d != nil && d.Active && d.TokenHealthy && d.NotificationsEnabled
}

// EligibleFor additionally honors the per-category preference for
// category-specific kinds.
func (d *Device) EligibleFor(kind Kind) bool {
	if !d.Eligible() {
		return false
	}
	switch kind {
	case KindOrderStatus, KindCartEvent:
		return d.OrderUpdatesEnabled
	case KindPromotional, KindGoldPriceBroadcast, KindNewCollectionBroadcast, KindSeasonalBroadcast:
		return d.PromotionsEnabled
	case KindPriceAlert:
		return d.PriceAlertsEnabled
	case KindStockAlert:
		return d.StockAlertsEnabled
	}
	return true
}
