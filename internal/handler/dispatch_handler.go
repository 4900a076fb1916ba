package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gleamora/push-pipeline/internal/domain"
	"github.com/gleamora/push-pipeline/internal/manager"
	"github.com/gleamora/push-pipeline/internal/queue"
)

// Dispatcher is the manager surface the HTTP layer depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *domain.NotificationRequest) (*manager.DispatchResult, error)
	Stats() manager.Stats
}

// QueueInspector exposes read-only queue state for the introspection
// endpoints.
type QueueInspector interface {
	Snapshot() queue.Status
	DeadLetters() []domain.DeadLetter
}

// DeliveryReader serves the per-request delivery audit trail. Optional; when
// nil the deliveries endpoint is not registered.
type DeliveryReader interface {
	ListByRequestID(ctx context.Context, requestID string) ([]domain.DeliveryRecord, error)
}

type DispatchHandler struct {
	dispatcher Dispatcher
	inspector  QueueInspector
	deliveries DeliveryReader
}

func NewDispatchHandler(dispatcher Dispatcher, inspector QueueInspector, deliveries DeliveryReader) (*DispatchHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if inspector == nil {
		return nil, fmt.Errorf("queue inspector is required")
	}
	return &DispatchHandler{dispatcher: dispatcher, inspector: inspector, deliveries: deliveries}, nil
}

func RegisterDispatchRoutes(router fiber.Router, dispatcher Dispatcher, inspector QueueInspector, deliveries DeliveryReader) error {
	h, err := NewDispatchHandler(dispatcher, inspector, deliveries)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/dispatch", h.Dispatch)
	v1.Get("/dispatch/stats", h.DispatchStats)
	v1.Get("/queue/status", h.QueueStatus)
	v1.Get("/queue/dead-letters", h.DeadLetters)
	if deliveries != nil {
		v1.Get("/deliveries/:requestId", h.Deliveries)
	}

	return nil
}

type dispatchRequest struct {
	Kind       string             `json:"kind"`
	Trigger    string             `json:"trigger"`
	Payload    map[string]any     `json:"payload"`
	Recipients *recipientsRequest `json:"recipients,omitempty"`
	Options    *optionsRequest    `json:"options,omitempty"`
}

type recipientsRequest struct {
	UserID      string           `json:"userId,omitempty"`
	UserIDs     []string         `json:"userIds,omitempty"`
	Criteria    *criteriaRequest `json:"criteria,omitempty"`
	FromPayload bool             `json:"fromPayload,omitempty"`
}

type criteriaRequest struct {
	Segment       string     `json:"segment,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	MinOrderCount int        `json:"minOrderCount,omitempty"`
	ActiveSince   *time.Time `json:"activeSince,omitempty"`
}

type optionsRequest struct {
	Priority string `json:"priority,omitempty"`
	DelayMs  int64  `json:"delayMs,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

type dispatchResponse struct {
	RequestID        string `json:"requestId"`
	QueueID          string `json:"queueId"`
	Units            int    `json:"units"`
	Recipients       int    `json:"recipients"`
	SkippedUsers     int    `json:"skippedUsers"`
	EstimatedDelayMs int64  `json:"estimatedDelayMs"`
}

type deadLetterResponse struct {
	QueueID       string    `json:"queueId"`
	RequestID     string    `json:"requestId"`
	Attempts      int       `json:"attempts"`
	Recipients    int       `json:"recipients"`
	FailureReason string    `json:"failureReason"`
	FailedAt      time.Time `json:"failedAt"`
}

func (h *DispatchHandler) Dispatch(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	domainReq, err := requestToDomain(req)
	if err != nil {
		return toHTTPError(err)
	}

	result, err := h.dispatcher.Dispatch(c.Context(), domainReq)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(dispatchResponse{
		RequestID:        result.RequestID,
		QueueID:          result.QueueID,
		Units:            result.Units,
		Recipients:       result.Recipients,
		SkippedUsers:     result.SkippedUsers,
		EstimatedDelayMs: result.EstimatedDelay.Milliseconds(),
	})
}

func (h *DispatchHandler) DispatchStats(c *fiber.Ctx) error {
	stats := h.dispatcher.Stats()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"accepted":           stats.Accepted,
		"rejected":           stats.Rejected,
		"failed":             stats.Failed,
		"averageBuildTimeMs": stats.AverageBuildTime.Milliseconds(),
	})
}

func (h *DispatchHandler) QueueStatus(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.inspector.Snapshot())
}

func (h *DispatchHandler) DeadLetters(c *fiber.Ctx) error {
	letters := h.inspector.DeadLetters()

	items := make([]deadLetterResponse, 0, len(letters))
	for _, letter := range letters {
		items = append(items, deadLetterResponse{
			QueueID:       letter.Item.ID,
			RequestID:     letter.Item.RequestID,
			Attempts:      letter.Item.Attempts,
			Recipients:    letter.Item.RecipientCount(),
			FailureReason: letter.FailureReason,
			FailedAt:      letter.FailedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"deadLetters": items,
		"count":       len(items),
	})
}

type deliveryRecordResponse struct {
	DeliveryType      string    `json:"deliveryType"`
	UserID            string    `json:"userId,omitempty"`
	DeviceID          string    `json:"deviceId,omitempty"`
	TopicName         string    `json:"topicName,omitempty"`
	Attempt           int       `json:"attempt"`
	Success           bool      `json:"success"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (h *DispatchHandler) Deliveries(c *fiber.Ctx) error {
	requestID := strings.TrimSpace(c.Params("requestId"))
	if requestID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "request id is required")
	}

	records, err := h.deliveries.ListByRequestID(c.Context(), requestID)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]deliveryRecordResponse, 0, len(records))
	for _, record := range records {
		items = append(items, deliveryRecordResponse{
			DeliveryType:      record.DeliveryType.String(),
			UserID:            record.UserID,
			DeviceID:          record.DeviceID,
			TopicName:         record.TopicName,
			Attempt:           record.Attempt,
			Success:           record.Success,
			ProviderMessageID: record.ProviderMessageID,
			Error:             record.Error,
			CreatedAt:         record.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"requestId":  requestID,
		"deliveries": items,
		"count":      len(items),
	})
}

func requestToDomain(req dispatchRequest) (*domain.NotificationRequest, error) {
	kind, err := domain.ParseKindFromString(req.Kind)
	if err != nil {
		return nil, err
	}

	domainReq := &domain.NotificationRequest{
		Kind:    kind,
		Trigger: strings.TrimSpace(req.Trigger),
		Payload: req.Payload,
	}

	if req.Recipients != nil {
		domainReq.Recipients = domain.Recipients{
			UserID:      strings.TrimSpace(req.Recipients.UserID),
			UserIDs:     req.Recipients.UserIDs,
			FromPayload: req.Recipients.FromPayload,
		}
		if req.Recipients.Criteria != nil {
			domainReq.Recipients.Criteria = &domain.TargetCriteria{
				Segment:       strings.TrimSpace(req.Recipients.Criteria.Segment),
				Tags:          req.Recipients.Criteria.Tags,
				MinOrderCount: req.Recipients.Criteria.MinOrderCount,
				ActiveSince:   req.Recipients.Criteria.ActiveSince,
			}
		}
	}

	if req.Options != nil {
		if raw := strings.TrimSpace(req.Options.Priority); raw != "" {
			priority, err := domain.ParsePriorityFromString(raw)
			if err != nil {
				return nil, err
			}
			domainReq.Options.Priority = priority
		}
		if req.Options.DelayMs < 0 {
			return nil, fmt.Errorf("%w: delayMs must be non-negative", domain.ErrValidation)
		}
		domainReq.Options.Delay = time.Duration(req.Options.DelayMs) * time.Millisecond
		domainReq.Options.TopicOverride = strings.TrimSpace(req.Options.Topic)
	}

	return domainReq, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrResolution), errors.Is(err, domain.ErrNoRecipients):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}
