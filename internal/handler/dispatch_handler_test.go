package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gleamora/push-pipeline/internal/domain"
	"github.com/gleamora/push-pipeline/internal/manager"
	"github.com/gleamora/push-pipeline/internal/queue"
)

type fakeDispatcher struct {
	lastReq *domain.NotificationRequest
	result  *manager.DispatchResult
	err     error
	stats   manager.Stats
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req *domain.NotificationRequest) (*manager.DispatchResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeDispatcher) Stats() manager.Stats { return f.stats }

type fakeInspector struct {
	status  queue.Status
	letters []domain.DeadLetter
}

func (f *fakeInspector) Snapshot() queue.Status           { return f.status }
func (f *fakeInspector) DeadLetters() []domain.DeadLetter { return f.letters }

type fakeDeliveryReader struct {
	records map[string][]domain.DeliveryRecord
}

func (f *fakeDeliveryReader) ListByRequestID(_ context.Context, requestID string) ([]domain.DeliveryRecord, error) {
	return f.records[requestID], nil
}

func newTestApp(t *testing.T, dispatcher *fakeDispatcher, inspector *fakeInspector) *fiber.App {
	t.Helper()

	app := fiber.New()
	if err := RegisterDispatchRoutes(app, dispatcher, inspector, nil); err != nil {
		t.Fatalf("RegisterDispatchRoutes returned error: %v", err)
	}
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) (int, []byte) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}

	req := httptest.NewRequest(fiber.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test returned error: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp.StatusCode, raw
}

func TestDispatchEndpointAcceptsRequest(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{
		result: &manager.DispatchResult{
			RequestID:      "req-1",
			QueueID:        "q-1",
			Units:          1,
			Recipients:     2,
			EstimatedDelay: 1500 * time.Millisecond,
		},
	}
	app := newTestApp(t, dispatcher, &fakeInspector{})

	body := map[string]any{
		"kind":    "ORDER_STATUS",
		"trigger": "order-service",
		"payload": map[string]any{"orderId": "ord-42", "status": "shipped"},
		"recipients": map[string]any{
			"userId": "user-1",
		},
		"options": map[string]any{
			"priority": "high",
			"delayMs":  250,
		},
	}

	status, raw := postJSON(t, app, "/v1/dispatch", body)
	if status != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", status, raw)
	}

	var resp dispatchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.RequestID != "req-1" || resp.EstimatedDelayMs != 1500 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if dispatcher.lastReq == nil {
		t.Fatal("dispatcher never received the request")
	}
	if dispatcher.lastReq.Kind != domain.KindOrderStatus {
		t.Fatalf("expected ORDER_STATUS kind, got %s", dispatcher.lastReq.Kind)
	}
	if dispatcher.lastReq.Options.Priority != domain.PriorityHigh {
		t.Fatalf("expected HIGH priority, got %s", dispatcher.lastReq.Options.Priority)
	}
	if dispatcher.lastReq.Options.Delay != 250*time.Millisecond {
		t.Fatalf("expected 250ms delay, got %v", dispatcher.lastReq.Options.Delay)
	}
}

func TestDispatchEndpointErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "validation", err: fmt.Errorf("%w: trigger is required", domain.ErrValidation), wantStatus: fiber.StatusBadRequest},
		{name: "resolution", err: fmt.Errorf("%w: no active template", domain.ErrResolution), wantStatus: fiber.StatusUnprocessableEntity},
		{name: "no recipients", err: fmt.Errorf("%w: none eligible", domain.ErrNoRecipients), wantStatus: fiber.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dispatcher := &fakeDispatcher{err: tt.err}
			app := newTestApp(t, dispatcher, &fakeInspector{})

			body := map[string]any{
				"kind":       "STOCK_ALERT",
				"trigger":    "inventory",
				"payload":    map[string]any{"productId": "p-1"},
				"recipients": map[string]any{"userId": "user-1"},
			}
			status, _ := postJSON(t, app, "/v1/dispatch", body)
			if status != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, status)
			}
		})
	}
}

func TestDispatchEndpointRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &fakeDispatcher{}, &fakeInspector{})

	body := map[string]any{
		"kind":    "CARRIER_PIGEON",
		"trigger": "test",
		"payload": map[string]any{},
	}
	status, _ := postJSON(t, app, "/v1/dispatch", body)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", status)
	}
}

func TestQueueStatusEndpoint(t *testing.T) {
	t.Parallel()

	inspector := &fakeInspector{
		status: queue.Status{Pending: 4, DeadLetters: 1, BreakerState: "closed"},
	}
	app := newTestApp(t, &fakeDispatcher{}, inspector)

	req := httptest.NewRequest(fiber.MethodGet, "/v1/queue/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test returned error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var status queue.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Pending != 4 || status.DeadLetters != 1 || status.BreakerState != "closed" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestDeadLettersEndpoint(t *testing.T) {
	t.Parallel()

	failedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	inspector := &fakeInspector{
		letters: []domain.DeadLetter{
			{
				Item: domain.QueueItem{
					ID:        "q-1",
					RequestID: "req-1",
					Attempts:  3,
					Notifications: []domain.DispatchUnit{
						{DeliveryType: domain.DeliveryTopic, TopicName: "promotions"},
					},
				},
				FailureReason: "all 1 sends failed: provider error",
				FailedAt:      failedAt,
			},
		},
	}
	app := newTestApp(t, &fakeDispatcher{}, inspector)

	req := httptest.NewRequest(fiber.MethodGet, "/v1/queue/dead-letters", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test returned error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		DeadLetters []deadLetterResponse `json:"deadLetters"`
		Count       int                  `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Count != 1 || len(payload.DeadLetters) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	letter := payload.DeadLetters[0]
	if letter.QueueID != "q-1" || letter.Attempts != 3 || letter.Recipients != 1 {
		t.Fatalf("unexpected dead letter: %+v", letter)
	}
}

func TestDeliveriesEndpoint(t *testing.T) {
	t.Parallel()

	reader := &fakeDeliveryReader{records: map[string][]domain.DeliveryRecord{
		"req-1": {
			{
				DeliveryType: domain.DeliveryIndividual,
				UserID:       "user-1",
				DeviceID:     "dev-1",
				Attempt:      1,
				Success:      true,
			},
		},
	}}

	app := fiber.New()
	if err := RegisterDispatchRoutes(app, &fakeDispatcher{}, &fakeInspector{}, reader); err != nil {
		t.Fatalf("RegisterDispatchRoutes returned error: %v", err)
	}

	req := httptest.NewRequest(fiber.MethodGet, "/v1/deliveries/req-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test returned error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		RequestID  string                   `json:"requestId"`
		Deliveries []deliveryRecordResponse `json:"deliveries"`
		Count      int                      `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Count != 1 || payload.Deliveries[0].DeviceID != "dev-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	RegisterHealthRoutes(app, nil, nil)

	req := httptest.NewRequest(fiber.MethodGet, "/healthz", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test returned error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
