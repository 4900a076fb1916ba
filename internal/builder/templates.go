package builder

import (
	"fmt"
	"strings"

	"github.com/gleamora/push-pipeline/internal/domain"
)

// Template identifiers known to the pipeline. The records themselves live in
// the template store; these are the lookup keys.
const (
	TemplateOrderPlaced       = "ORDER_PLACED"
	TemplateOrderConfirmed    = "ORDER_CONFIRMED"
	TemplateOrderProcessing   = "ORDER_PROCESSING"
	TemplateOrderShipped      = "ORDER_SHIPPED"
	TemplateOrderDelivered    = "ORDER_DELIVERED"
	TemplateOrderCancelled    = "ORDER_CANCELLED"
	TemplateOrderStatusChange = "ORDER_STATUS_CHANGED"

	TemplateCartAbandoned = "CART_ABANDONED"
	TemplateCartReminder  = "CART_REMINDER"
	TemplateCartUpdated   = "CART_UPDATED"

	TemplatePromoGeneral   = "PROMO_GENERAL"
	TemplatePriceDrop      = "PRICE_DROP_ALERT"
	TemplateBackInStock    = "BACK_IN_STOCK"
	TemplateGoldPrice      = "GOLD_PRICE_UPDATE"
	TemplateNewCollection  = "NEW_COLLECTION"
	TemplateSeasonalWishes = "SEASONAL_GREETING"
)

// orderStatusTemplates maps a new order status to its template. Unmapped
// statuses fall back to the generic status-changed template.
var orderStatusTemplates = map[string]string{
	"placed":     TemplateOrderPlaced,
	"confirmed":  TemplateOrderConfirmed,
	"processing": TemplateOrderProcessing,
	"shipped":    TemplateOrderShipped,
	"delivered":  TemplateOrderDelivered,
	"cancelled":  TemplateOrderCancelled,
}

// cartEventTemplates maps a cart event name to its template. Unmapped events
// fall back to the generic cart-updated template.
var cartEventTemplates = map[string]string{
	"abandoned": TemplateCartAbandoned,
	"reminder":  TemplateCartReminder,
}

// resolveTemplateID is a pure mapping from (kind, payload) to a template id.
// It never touches the store.
func resolveTemplateID(req *domain.NotificationRequest) (string, error) {
	switch req.Kind {
	case domain.KindOrderStatus:
		status := strings.ToLower(strings.TrimSpace(req.PayloadString("status")))
		if id, ok := orderStatusTemplates[status]; ok {
			return id, nil
		}
		return TemplateOrderStatusChange, nil
	case domain.KindCartEvent:
		event := strings.ToLower(strings.TrimSpace(req.PayloadString("event")))
		if id, ok := cartEventTemplates[event]; ok {
			return id, nil
		}
		return TemplateCartUpdated, nil
	case domain.KindPromotional:
		return TemplatePromoGeneral, nil
	case domain.KindPriceAlert:
		return TemplatePriceDrop, nil
	case domain.KindStockAlert:
		return TemplateBackInStock, nil
	case domain.KindGoldPriceBroadcast:
		return TemplateGoldPrice, nil
	case domain.KindNewCollectionBroadcast:
		return TemplateNewCollection, nil
	case domain.KindSeasonalBroadcast:
		return TemplateSeasonalWishes, nil
	}

	return "", fmt.Errorf("%w: no template mapping for kind %q", domain.ErrResolution, req.Kind)
}
