package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies what business event a notification request describes.
type Kind string

const (
	KindOrderStatus            Kind = "ORDER_STATUS"
	KindCartEvent              Kind = "CART_EVENT"
	KindPromotional            Kind = "PROMOTIONAL"
	KindPriceAlert             Kind = "PRICE_ALERT"
	KindStockAlert             Kind = "STOCK_ALERT"
	KindGoldPriceBroadcast     Kind = "GOLD_PRICE_BROADCAST"
	KindNewCollectionBroadcast Kind = "NEW_COLLECTION_BROADCAST"
	KindSeasonalBroadcast      Kind = "SEASONAL_BROADCAST"
)

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	switch k {
	case KindOrderStatus, KindCartEvent, KindPromotional, KindPriceAlert,
		KindStockAlert, KindGoldPriceBroadcast, KindNewCollectionBroadcast,
		KindSeasonalBroadcast:
		return true
	}
	return false
}

// IsBroadcast reports whether the kind is delivered to a topic rather than
// to named users. Promotional pushes go out as broadcasts as well.
func (k Kind) IsBroadcast() bool {
	switch k {
	case KindPromotional, KindGoldPriceBroadcast, KindNewCollectionBroadcast, KindSeasonalBroadcast:
		return true
	}
	return false
}

func ParseKindFromString(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid kind %q", ErrValidation, s)
	}
	return k, nil
}

// Priority represents the scheduling priority of a request.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// TargetCriteria selects an audience by attributes instead of explicit ids.
// Resolution is delegated to the Targeter capability.
type TargetCriteria struct {
	Segment       string
	Tags          []string
	MinOrderCount int
	ActiveSince   *time.Time
}

func (c *TargetCriteria) IsZero() bool {
	if c == nil {
		return true
	}
	return c.Segment == "" && len(c.Tags) == 0 && c.MinOrderCount == 0 && c.ActiveSince == nil
}

// Recipients is the audience of a request: exactly one of the fields is
// expected to be set. FromPayload means the audience is derived from the
// payload (e.g. the order's owning user).
type Recipients struct {
	UserID      string
	UserIDs     []string
	Criteria    *TargetCriteria
	FromPayload bool
}

func (r Recipients) IsZero() bool {
	return r.UserID == "" && len(r.UserIDs) == 0 && r.Criteria.IsZero() && !r.FromPayload
}

// Options carries scheduling hints for the delivery queue.
type Options struct {
	Priority Priority
	Delay    time.Duration
	// TopicOverride forces broadcast delivery to a specific topic. Unknown
	// topics fall back to the all-users topic at build time.
	TopicOverride string
}

// NotificationRequest is the canonical dispatch intent. It is constructed
// once per call, never mutated, and discarded after the build.
type NotificationRequest struct {
	Kind       Kind
	Trigger    string
	Payload    map[string]any
	Recipients Recipients
	Options    Options
}

// Validate checks the request shape before any I/O happens. Broadcast kinds
// carry an implicit audience and skip the recipients check.
func (r *NotificationRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is required", ErrValidation)
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, r.Kind)
	}
	if strings.TrimSpace(r.Trigger) == "" {
		return fmt.Errorf("%w: trigger is required", ErrValidation)
	}
	if r.Payload == nil {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if !r.Kind.IsBroadcast() && r.Recipients.IsZero() {
		return fmt.Errorf("%w: recipients are required for %s", ErrValidation, r.Kind)
	}
	if r.Options.Priority != "" && !r.Options.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, r.Options.Priority)
	}
	if r.Options.Delay < 0 {
		return fmt.Errorf("%w: delay must be non-negative", ErrValidation)
	}
	return nil
}

// NormalizedPriority returns the effective priority, defaulting to NORMAL.
func (r *NotificationRequest) NormalizedPriority() Priority {
	if r.Options.Priority.IsValid() {
		return r.Options.Priority
	}
	return PriorityNormal
}

// PayloadString returns the payload value under key rendered as a string,
// or "" when absent.
func (r *NotificationRequest) PayloadString(key string) string {
	if r == nil || r.Payload == nil {
		return ""
	}
	v, ok := r.Payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
