package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gleamora/push-pipeline/internal/builder"
	"github.com/gleamora/push-pipeline/internal/domain"
	"github.com/gleamora/push-pipeline/internal/events"
	"github.com/gleamora/push-pipeline/internal/provider"
	"github.com/gleamora/push-pipeline/internal/queue"
)

type fakeTemplateStore struct {
	templates map[string]*domain.Template
}

func (f *fakeTemplateStore) FindActiveByID(_ context.Context, id string) (*domain.Template, error) {
	tpl, ok := f.templates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return tpl, nil
}

type fakeDeviceStore struct {
	devices map[string][]domain.Device
}

func (f *fakeDeviceStore) EligibleByUser(_ context.Context, userID string, _ domain.Kind) ([]domain.Device, error) {
	return f.devices[userID], nil
}

func (f *fakeDeviceStore) Deactivate(context.Context, string) error         { return nil }
func (f *fakeDeviceStore) MarkTokenUnhealthy(context.Context, string) error { return nil }

type recordingProvider struct {
	mu          sync.Mutex
	deviceSends []string
	topicSends  []string
	sent        chan struct{}
}

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{sent: make(chan struct{}, 16)}
}

func (p *recordingProvider) SendToDevice(_ context.Context, device domain.Device, _ domain.RenderedContent, _ provider.Metadata) (*provider.ProviderResponse, error) {
	p.mu.Lock()
	p.deviceSends = append(p.deviceSends, device.Token)
	p.mu.Unlock()
	p.sent <- struct{}{}
	return &provider.ProviderResponse{StatusCode: 200, MessageID: "msg-" + device.Token}, nil
}

func (p *recordingProvider) SendToTopic(_ context.Context, topic string, _ domain.RenderedContent, _ provider.Metadata) (*provider.ProviderResponse, error) {
	p.mu.Lock()
	p.topicSends = append(p.topicSends, topic)
	p.mu.Unlock()
	p.sent <- struct{}{}
	return &provider.ProviderResponse{StatusCode: 200, MessageID: "msg-" + topic}, nil
}

type managerFixture struct {
	manager  *Manager
	queue    *queue.DeliveryQueue
	provider *recordingProvider
}

func newManagerFixture(t *testing.T, templates map[string]*domain.Template, devices map[string][]domain.Device) *managerFixture {
	t.Helper()

	b, err := builder.New(
		&fakeTemplateStore{templates: templates},
		&fakeDeviceStore{devices: devices},
		nil,
		nil,
		time.Minute,
		nil,
	)
	if err != nil {
		t.Fatalf("builder.New returned error: %v", err)
	}

	p := newRecordingProvider()
	q, err := queue.New(p, nil, nil, nil, events.NewEmitter(0), nil, queue.Config{Tick: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("queue.New returned error: %v", err)
	}

	m, err := New(b, q, events.NewEmitter(0), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	return &managerFixture{manager: m, queue: q, provider: p}
}

func shippedTemplate() map[string]*domain.Template {
	return map[string]*domain.Template{
		"ORDER_SHIPPED": {
			ID:                "ORDER_SHIPPED",
			Status:            domain.TemplateStatusActive,
			TitlePattern:      "Your order is on its way",
			BodyPattern:       "Order {{orderNumber}} has shipped",
			RequiredVariables: []string{"orderNumber"},
		},
	}
}

func TestDispatchRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, nil, nil)

	req := &domain.NotificationRequest{Kind: domain.Kind("BOGUS"), Trigger: "test", Payload: map[string]any{}}
	_, err := f.manager.Dispatch(context.Background(), req)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	stats := f.manager.Stats()
	if stats.Rejected != 1 || stats.Accepted != 0 {
		t.Fatalf("unexpected stats after rejection: %+v", stats)
	}
}

func TestDispatchEndToEndOrderStatus(t *testing.T) {
	t.Parallel()

	devices := map[string][]domain.Device{
		"user-1": {
			{ID: "dev-1", UserID: "user-1", Token: "tok-1", Active: true, TokenHealthy: true, NotificationsEnabled: true, OrderUpdatesEnabled: true},
			{ID: "dev-2", UserID: "user-1", Token: "tok-2", Active: true, TokenHealthy: true, NotificationsEnabled: true, OrderUpdatesEnabled: true},
		},
	}
	f := newManagerFixture(t, shippedTemplate(), devices)

	ctx := context.Background()
	if err := f.queue.Start(ctx); err != nil {
		t.Fatalf("queue.Start returned error: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_ = f.queue.Shutdown(shutdownCtx)
	}()

	req := domain.NewOrderStatusRequest("ord-42", "shipped", "processing", "user-1", "order-service")
	result, err := f.manager.Dispatch(ctx, &req)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if result.RequestID == "" || result.QueueID == "" {
		t.Fatalf("expected identifiers assigned, got %+v", result)
	}
	if result.Units != 1 || result.Recipients != 2 {
		t.Fatalf("expected 1 unit for 2 devices, got %+v", result)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-f.provider.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for send %d", i+1)
		}
	}

	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	if len(f.provider.deviceSends) != 2 {
		t.Fatalf("expected 2 device sends, got %v", f.provider.deviceSends)
	}

	stats := f.manager.Stats()
	if stats.Accepted != 1 {
		t.Fatalf("expected 1 accepted dispatch, got %+v", stats)
	}
}

func TestDispatchBroadcastGoesToTopic(t *testing.T) {
	t.Parallel()

	templates := map[string]*domain.Template{
		"GOLD_PRICE_UPDATE": {
			ID:                "GOLD_PRICE_UPDATE",
			Status:            domain.TemplateStatusActive,
			TitlePattern:      "Gold price update",
			BodyPattern:       "Gold is now {{pricePerGram}}/g",
			RequiredVariables: []string{"pricePerGram"},
		},
	}
	f := newManagerFixture(t, templates, nil)

	ctx := context.Background()
	if err := f.queue.Start(ctx); err != nil {
		t.Fatalf("queue.Start returned error: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_ = f.queue.Shutdown(shutdownCtx)
	}()

	req := domain.NewGoldPriceBroadcast(4812.5, 2.1, "gold-price-feed")
	result, err := f.manager.Dispatch(ctx, &req)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if result.Units != 1 || result.Recipients != 1 {
		t.Fatalf("expected a single topic unit, got %+v", result)
	}

	select {
	case <-f.provider.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for topic send")
	}

	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	if len(f.provider.topicSends) != 1 || f.provider.topicSends[0] != "promotions" {
		t.Fatalf("expected one send to promotions, got %v", f.provider.topicSends)
	}
}

func TestDispatchFailsWhenNoRecipients(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, shippedTemplate(), nil)

	req := domain.NewOrderStatusRequest("ord-43", "shipped", "processing", "user-without-devices", "order-service")
	_, err := f.manager.Dispatch(context.Background(), &req)
	if !errors.Is(err, domain.ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}

	stats := f.manager.Stats()
	if stats.Failed != 1 {
		t.Fatalf("expected 1 failed dispatch, got %+v", stats)
	}
}

func TestStatsAveragesBuildTime(t *testing.T) {
	t.Parallel()

	devices := map[string][]domain.Device{
		"user-1": {{ID: "dev-1", UserID: "user-1", Token: "tok-1", Active: true, TokenHealthy: true, NotificationsEnabled: true, OrderUpdatesEnabled: true}},
	}
	f := newManagerFixture(t, shippedTemplate(), devices)

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	step := 10 * time.Millisecond
	f.manager.now = func() time.Time {
		now := clock
		clock = clock.Add(step)
		return now
	}

	for i := 0; i < 3; i++ {
		req := domain.NewOrderStatusRequest("ord-44", "shipped", "processing", "user-1", "order-service")
		if _, err := f.manager.Dispatch(context.Background(), &req); err != nil {
			t.Fatalf("Dispatch %d returned error: %v", i, err)
		}
	}

	stats := f.manager.Stats()
	if stats.Accepted != 3 {
		t.Fatalf("expected 3 accepted, got %+v", stats)
	}
	if stats.AverageBuildTime != step {
		t.Fatalf("expected average build time %v, got %v", step, stats.AverageBuildTime)
	}
}
