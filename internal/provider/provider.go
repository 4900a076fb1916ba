package provider

import (
	"context"

	"github.com/gleamora/push-pipeline/internal/domain"
)

// Provider is the outbound push delivery port. Implementations send one
// rendered notification to a single device token or to a broadcast topic.
type Provider interface {
	SendToDevice(ctx context.Context, device domain.Device, content domain.RenderedContent, meta Metadata) (*ProviderResponse, error)
	SendToTopic(ctx context.Context, topic string, content domain.RenderedContent, meta Metadata) (*ProviderResponse, error)
}

// Metadata carries per-send attribution for the delivery provider.
type Metadata struct {
	RequestID  string
	QueueID    string
	TemplateID string
	Priority   domain.Priority
}

// ProviderResponse stores provider call metadata for audit and persistence.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
