package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gleamora/push-pipeline/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultGatewayTimeout = 10 * time.Second

type gatewayRequest struct {
	Token     string `json:"token,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Action    string `json:"action,omitempty"`
	Priority  string `json:"priority,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type gatewayResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// PushGatewayProvider sends notifications through an HTTP push gateway that
// accepts per-token and per-topic sends on a single endpoint.
type PushGatewayProvider struct {
	client   *resty.Client
	endpoint string
}

func NewPushGatewayProvider(endpoint string) (*PushGatewayProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)
	client.SetRetryCount(0)

	return NewPushGatewayProviderWithClient(endpoint, client)
}

func NewPushGatewayProviderWithClient(endpoint string, client *resty.Client) (*PushGatewayProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("push gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid push gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	client.SetRetryCount(0)

	return &PushGatewayProvider{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *PushGatewayProvider) SendToDevice(ctx context.Context, device domain.Device, content domain.RenderedContent, meta Metadata) (*ProviderResponse, error) {
	if strings.TrimSpace(device.Token) == "" {
		return nil, &ProviderError{
			Message:      "device token is empty",
			Unregistered: true,
		}
	}

	return p.post(ctx, gatewayRequest{
		Token:     device.Token,
		Title:     content.Title,
		Body:      content.Body,
		Action:    content.Action,
		Priority:  strings.ToLower(meta.Priority.String()),
		RequestID: meta.RequestID,
	})
}

func (p *PushGatewayProvider) SendToTopic(ctx context.Context, topic string, content domain.RenderedContent, meta Metadata) (*ProviderResponse, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, &ProviderError{Message: "topic name is required"}
	}

	return p.post(ctx, gatewayRequest{
		Topic:     topic,
		Title:     content.Title,
		Body:      content.Body,
		Action:    content.Action,
		Priority:  strings.ToLower(meta.Priority.String()),
		RequestID: meta.RequestID,
	})
}

func (p *PushGatewayProvider) post(ctx context.Context, reqBody gatewayRequest) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  providerMessageID(response, responseBody),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode:   statusCode,
		Message:      providerErrorMessage(statusCode, responseBody),
		Transient:    isTransientHTTPStatus(statusCode),
		Unregistered: isUnregisteredResponse(statusCode, responseBody),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

// isUnregisteredResponse matches FCM-style invalid-registration answers:
// 404/410 on the token resource, or an explicit error code in the body.
func isUnregisteredResponse(statusCode int, body string) bool {
	if statusCode == http.StatusNotFound || statusCode == http.StatusGone {
		return true
	}
	upper := strings.ToUpper(body)
	return strings.Contains(upper, "UNREGISTERED") || strings.Contains(upper, "INVALID_REGISTRATION")
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response, body string) string {
	if body != "" {
		var parsed gatewayResponse
		if err := json.Unmarshal([]byte(body), &parsed); err == nil && strings.TrimSpace(parsed.MessageID) != "" {
			return strings.TrimSpace(parsed.MessageID)
		}
	}

	if response == nil {
		return ""
	}
	for _, key := range []string{"X-Request-ID", "X-Request-Id", "X-Message-ID", "X-Message-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
