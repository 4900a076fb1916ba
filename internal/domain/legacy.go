package domain

// Legacy call-shape adapters. Older callers across the storefront pass
// positional argument lists instead of the canonical request; these
// constructors translate them so every shape reaches the pipeline as the
// same NotificationRequest. New code should build the request directly.

// NewOrderStatusRequest adapts the positional "order" shape.
func NewOrderStatusRequest(orderID, status, previousStatus, userID, trigger string) NotificationRequest {
	return NotificationRequest{
		Kind:    KindOrderStatus,
		Trigger: trigger,
		Payload: map[string]any{
			"orderId":        orderID,
			"status":         status,
			"previousStatus": previousStatus,
		},
		Recipients: Recipients{UserID: userID},
		Options:    Options{Priority: PriorityHigh},
	}
}

// NewCartEventRequest adapts the positional "cart" shape.
func NewCartEventRequest(userID, event string, itemCount int, cartValue float64, trigger string) NotificationRequest {
	return NotificationRequest{
		Kind:    KindCartEvent,
		Trigger: trigger,
		Payload: map[string]any{
			"event":     event,
			"itemCount": itemCount,
			"cartValue": cartValue,
		},
		Recipients: Recipients{UserID: userID},
		Options:    Options{Priority: PriorityNormal},
	}
}

// NewPromotionalRequest adapts the positional "promo" shape. A nil criteria
// broadcasts to the promotional topic's full audience.
func NewPromotionalRequest(title, message string, criteria *TargetCriteria, trigger string) NotificationRequest {
	return NotificationRequest{
		Kind:    KindPromotional,
		Trigger: trigger,
		Payload: map[string]any{
			"title":   title,
			"message": message,
		},
		Recipients: Recipients{Criteria: criteria},
		Options:    Options{Priority: PriorityLow},
	}
}

// NewGoldPriceBroadcast adapts the scheduled gold-price job's shape.
func NewGoldPriceBroadcast(pricePerGram, changePercent float64, trigger string) NotificationRequest {
	return NotificationRequest{
		Kind:    KindGoldPriceBroadcast,
		Trigger: trigger,
		Payload: map[string]any{
			"pricePerGram":  pricePerGram,
			"changePercent": changePercent,
		},
		Options: Options{Priority: PriorityLow},
	}
}
