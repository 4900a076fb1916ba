package builder

import (
	"strings"

	"github.com/gleamora/push-pipeline/internal/domain"
)

// buildVariables extracts the interpolation variables for a request. The
// mapping is kind-specific; absent payload values are simply not set so the
// required-variable check can catch them per template.
func buildVariables(req *domain.NotificationRequest) map[string]string {
	vars := make(map[string]string)

	switch req.Kind {
	case domain.KindOrderStatus:
		setVar(vars, "orderId", req.PayloadString("orderId"))
		orderNumber := req.PayloadString("orderNumber")
		if orderNumber == "" {
			// Older callers only pass the raw order id.
			orderNumber = req.PayloadString("orderId")
		}
		setVar(vars, "orderNumber", orderNumber)
		setVar(vars, "status", req.PayloadString("status"))
		setVar(vars, "previousStatus", req.PayloadString("previousStatus"))
		setVar(vars, "itemCount", req.PayloadString("itemCount"))
		setVar(vars, "totalAmount", req.PayloadString("totalAmount"))
		setVar(vars, "estimatedDelivery", req.PayloadString("estimatedDelivery"))
		setVar(vars, "trackingId", req.PayloadString("trackingId"))
	case domain.KindCartEvent:
		setVar(vars, "event", req.PayloadString("event"))
		setVar(vars, "itemCount", req.PayloadString("itemCount"))
		setVar(vars, "cartValue", req.PayloadString("cartValue"))
	case domain.KindPriceAlert:
		setVar(vars, "productId", req.PayloadString("productId"))
		setVar(vars, "productName", req.PayloadString("productName"))
		setVar(vars, "oldPrice", req.PayloadString("oldPrice"))
		setVar(vars, "newPrice", req.PayloadString("newPrice"))
		setVar(vars, "discountPercent", req.PayloadString("discountPercent"))
	case domain.KindStockAlert:
		setVar(vars, "productId", req.PayloadString("productId"))
		setVar(vars, "productName", req.PayloadString("productName"))
	case domain.KindGoldPriceBroadcast:
		setVar(vars, "pricePerGram", req.PayloadString("pricePerGram"))
		setVar(vars, "changePercent", req.PayloadString("changePercent"))
	case domain.KindPromotional:
		setVar(vars, "title", req.PayloadString("title"))
		setVar(vars, "message", req.PayloadString("message"))
		setVar(vars, "discountCode", req.PayloadString("discountCode"))
	case domain.KindNewCollectionBroadcast:
		setVar(vars, "collectionName", req.PayloadString("collectionName"))
		setVar(vars, "itemCount", req.PayloadString("itemCount"))
	case domain.KindSeasonalBroadcast:
		setVar(vars, "occasion", req.PayloadString("occasion"))
		setVar(vars, "message", req.PayloadString("message"))
	}

	return vars
}

func setVar(vars map[string]string, name, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	vars[name] = value
}
