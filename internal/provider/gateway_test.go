package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gleamora/push-pipeline/internal/domain"
	"github.com/go-resty/resty/v2"
)

func TestPushGatewayProviderSendToDeviceSuccess(t *testing.T) {
	t.Parallel()

	var gotBody gatewayRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messageId":"gw-msg-1"}`))
	}))
	defer server.Close()

	p, err := NewPushGatewayProvider(server.URL)
	if err != nil {
		t.Fatalf("NewPushGatewayProvider() error = %v", err)
	}

	device := domain.Device{ID: "d1", UserID: "U1", Token: "tok-1"}
	content := domain.RenderedContent{Title: "Order shipped", Body: "Order #42 is on its way", Action: "app://orders/42"}

	resp, err := p.SendToDevice(context.Background(), device, content, Metadata{RequestID: "r1", Priority: domain.PriorityHigh})
	if err != nil {
		t.Fatalf("SendToDevice() unexpected error: %v", err)
	}

	if resp.MessageID != "gw-msg-1" {
		t.Fatalf("MessageID = %q, want gw-msg-1", resp.MessageID)
	}
	if gotBody.Token != "tok-1" {
		t.Fatalf("request.token = %q, want tok-1", gotBody.Token)
	}
	if gotBody.Topic != "" {
		t.Fatalf("request.topic = %q, want empty", gotBody.Topic)
	}
	if gotBody.Title != content.Title || gotBody.Body != content.Body || gotBody.Action != content.Action {
		t.Fatalf("content = %+v, want %+v", gotBody, content)
	}
	if gotBody.Priority != "high" {
		t.Fatalf("request.priority = %q, want high", gotBody.Priority)
	}
}

func TestPushGatewayProviderSendToTopic(t *testing.T) {
	t.Parallel()

	var gotBody gatewayRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		w.Header().Set("X-Message-ID", "topic-msg-7")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p, err := NewPushGatewayProvider(server.URL)
	if err != nil {
		t.Fatalf("NewPushGatewayProvider() error = %v", err)
	}

	resp, err := p.SendToTopic(context.Background(), "promotions", domain.RenderedContent{Title: "t", Body: "b"}, Metadata{})
	if err != nil {
		t.Fatalf("SendToTopic() unexpected error: %v", err)
	}

	if resp.MessageID != "topic-msg-7" {
		t.Fatalf("MessageID = %q, want topic-msg-7", resp.MessageID)
	}
	if gotBody.Topic != "promotions" || gotBody.Token != "" {
		t.Fatalf("body = %+v, want topic-only", gotBody)
	}
}

func TestPushGatewayProviderStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name             string
		statusCode       int
		body             string
		wantTransient    bool
		wantUnregistered bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "gone means unregistered", statusCode: http.StatusGone, wantUnregistered: true},
		{name: "not found means unregistered", statusCode: http.StatusNotFound, wantUnregistered: true},
		{name: "explicit unregistered body", statusCode: http.StatusBadRequest, body: `{"error":"UNREGISTERED"}`, wantUnregistered: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				if tc.body != "" {
					_, _ = w.Write([]byte(tc.body))
				}
			}))
			defer server.Close()

			p, err := NewPushGatewayProvider(server.URL)
			if err != nil {
				t.Fatalf("NewPushGatewayProvider() error = %v", err)
			}

			_, err = p.SendToDevice(context.Background(), domain.Device{Token: "tok"}, domain.RenderedContent{Title: "t", Body: "b"}, Metadata{})
			if err == nil {
				t.Fatal("expected error")
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("error type = %T, want *ProviderError", err)
			}
			if IsTransient(err) != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", IsTransient(err), tc.wantTransient)
			}
			if IsUnregistered(err) != tc.wantUnregistered {
				t.Fatalf("IsUnregistered() = %v, want %v", IsUnregistered(err), tc.wantUnregistered)
			}
		})
	}
}

func TestPushGatewayProviderEmptyTokenIsUnregistered(t *testing.T) {
	t.Parallel()

	p, err := NewPushGatewayProvider("https://push.example.com/v1/send")
	if err != nil {
		t.Fatalf("NewPushGatewayProvider() error = %v", err)
	}

	_, err = p.SendToDevice(context.Background(), domain.Device{}, domain.RenderedContent{Title: "t", Body: "b"}, Metadata{})
	if !IsUnregistered(err) {
		t.Fatalf("IsUnregistered() = false for empty token, err = %v", err)
	}
}

func TestPushGatewayProviderTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(20 * time.Millisecond)

	p, err := NewPushGatewayProviderWithClient(server.URL, client)
	if err != nil {
		t.Fatalf("NewPushGatewayProviderWithClient() error = %v", err)
	}

	_, err = p.SendToTopic(context.Background(), "promotions", domain.RenderedContent{Title: "t", Body: "b"}, Metadata{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false for timeout, err = %v", err)
	}
}
