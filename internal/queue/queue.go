package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gleamora/push-pipeline/internal/domain"
	"github.com/gleamora/push-pipeline/internal/events"
	"github.com/gleamora/push-pipeline/internal/observability"
	"github.com/gleamora/push-pipeline/internal/provider"
	"github.com/gleamora/push-pipeline/internal/repository"
)

const (
	defaultTick           = time.Second
	defaultBatchSize      = 10
	defaultMaxRetries     = 3
	defaultBaseRetryDelay = time.Second
	defaultSendTimeout    = 10 * time.Second

	// itemSendConcurrency bounds parallel provider calls per queue item.
	itemSendConcurrency = 8
)

// Config tunes the delivery loop. Zero values fall back to the defaults
// above.
type Config struct {
	Tick             time.Duration
	BatchSize        int
	MaxRetries       int
	BaseRetryDelay   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	SendTimeout      time.Duration
}

func (c *Config) applyDefaults() {
	if c.Tick <= 0 {
		c.Tick = defaultTick
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = defaultBaseRetryDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
}

// EnqueueResult acknowledges a non-blocking hand-off.
type EnqueueResult struct {
	QueueID        string
	EstimatedDelay time.Duration
}

// Status is a point-in-time snapshot for the introspection endpoints.
type Status struct {
	Pending      int    `json:"pending"`
	DeadLetters  int    `json:"deadLetters"`
	BreakerState string `json:"breakerState"`
}

// DeliveryQueue buffers built dispatch units and drains them on a fixed
// tick: due items are processed in bounded batches, failed items retried
// with exponential backoff, exhausted items dead-lettered. The pending list
// is process-local; a restart loses it, which is why dead letters are
// mirrored to the broker when one is configured.
type DeliveryQueue struct {
	cfg        Config
	provider   provider.Provider
	devices    repository.DeviceStore
	deliveries repository.DeliveryStore
	mirror     DeadLetterPublisher
	breaker    *CircuitBreaker
	emitter    *events.Emitter
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu          sync.Mutex
	pending     []*domain.QueueItem
	deadLetters []domain.DeadLetter
	started     bool
	stopping    bool

	stop chan struct{}
	done chan struct{}
}

func New(
	p provider.Provider,
	devices repository.DeviceStore,
	deliveries repository.DeliveryStore,
	mirror DeadLetterPublisher,
	emitter *events.Emitter,
	logger *zap.Logger,
	cfg Config,
) (*DeliveryQueue, error) {
	if p == nil {
		return nil, fmt.Errorf("delivery provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	q := &DeliveryQueue{
		cfg:        cfg,
		provider:   p,
		devices:    devices,
		deliveries: deliveries,
		mirror:     mirror,
		breaker:    NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		emitter:    emitter,
		logger:     logger,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	q.breaker.OnStateChange(func(from, to BreakerState) {
		q.logger.Warn("circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		q.metrics.SetBreakerState(int(to))
		q.emitter.Emit(events.Event{
			Type:   events.TypeBreakerState,
			Fields: map[string]string{"from": from.String(), "to": to.String()},
		})
	})

	return q, nil
}

func (q *DeliveryQueue) SetMetrics(metrics *observability.Metrics) {
	if q == nil {
		return
	}
	q.metrics = metrics
}

// Enqueue accepts built units without blocking the caller. High-priority
// items go to the front of the pending list; everything else appends.
func (q *DeliveryQueue) Enqueue(units []domain.DispatchUnit, requestID string, priority domain.Priority, delay time.Duration) (*EnqueueResult, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: nothing to enqueue", domain.ErrValidation)
	}
	if delay < 0 {
		delay = 0
	}

	now := q.now().UTC()
	item := &domain.QueueItem{
		ID:            uuid.NewString(),
		RequestID:     requestID,
		Notifications: units,
		Priority:      priority,
		ScheduledFor:  now.Add(delay),
		CreatedAt:     now,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopping {
		return nil, fmt.Errorf("delivery queue is shutting down")
	}
	q.insertLocked(item)
	q.updateDepthLocked()

	return &EnqueueResult{QueueID: item.ID, EstimatedDelay: delay + q.cfg.Tick}, nil
}

// Start launches the drain loop. It returns immediately; processing runs on
// the queue's own goroutine until Shutdown or ctx cancellation.
func (q *DeliveryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return fmt.Errorf("delivery queue already started")
	}
	q.started = true
	q.mu.Unlock()

	go q.run(ctx)
	return nil
}

// Shutdown stops accepting work and waits for the in-flight batch to finish
// or ctx to expire, whichever comes first.
func (q *DeliveryQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.started || q.stopping {
		q.mu.Unlock()
		return nil
	}
	q.stopping = true
	q.mu.Unlock()

	close(q.stop)

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait canceled: %w", ctx.Err())
	}
}

// Snapshot reports current depths and breaker position.
func (q *DeliveryQueue) Snapshot() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Pending:      len(q.pending),
		DeadLetters:  len(q.deadLetters),
		BreakerState: q.breaker.State().String(),
	}
}

// DeadLetters returns a copy of the terminally-failed items.
func (q *DeliveryQueue) DeadLetters() []domain.DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	letters := make([]domain.DeadLetter, len(q.deadLetters))
	copy(letters, q.deadLetters)
	return letters
}

func (q *DeliveryQueue) run(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
			q.processDue(ctx)
		}
	}
}

// processDue drains one batch. The whole tick is skipped while the breaker
// is open; items simply stay scheduled.
func (q *DeliveryQueue) processDue(ctx context.Context) {
	if !q.breaker.Allow() {
		return
	}

	batch := q.takeDue()
	if len(batch) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range batch {
		item := item
		g.Go(func() error {
			q.processItem(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
}

func (q *DeliveryQueue) takeDue() []*domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	due := make([]*domain.QueueItem, 0, q.cfg.BatchSize)
	remaining := q.pending[:0]
	for _, item := range q.pending {
		if len(due) < q.cfg.BatchSize && !item.ScheduledFor.After(now) {
			due = append(due, item)
			continue
		}
		remaining = append(remaining, item)
	}
	// Clear trailing slots so dropped items do not pin memory.
	for i := len(remaining); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = remaining
	q.updateDepthLocked()

	return due
}

func (q *DeliveryQueue) processItem(ctx context.Context, item *domain.QueueItem) {
	item.Attempts++

	sent, failed, faulted, err := q.deliverItem(ctx, item)

	// Only faults in the processing loop itself feed the breaker. Transport
	// failures take the retry path with the breaker untouched; opening on
	// those would freeze healthy traffic behind one flaky recipient set.
	switch {
	case faulted:
		q.breaker.RecordFailure()
	case err == nil:
		q.breaker.RecordSuccess()
	}

	if err == nil {
		if failed > 0 {
			// Partial success is terminal; retrying would duplicate the
			// notifications that already went out.
			q.logger.Warn("queue item partially delivered",
				zap.String("queueId", item.ID),
				zap.String("requestId", item.RequestID),
				zap.Int("sent", sent),
				zap.Int("failed", failed),
			)
			q.emitter.Emit(events.Event{
				Type:      events.TypeFailed,
				RequestID: item.RequestID,
				QueueID:   item.ID,
				Fields: map[string]string{
					"sent":   fmt.Sprintf("%d", sent),
					"failed": fmt.Sprintf("%d", failed),
				},
			})
		}
		q.emitter.Emit(events.Event{
			Type:      events.TypeDelivered,
			RequestID: item.RequestID,
			QueueID:   item.ID,
			Fields: map[string]string{
				"attempt": fmt.Sprintf("%d", item.Attempts),
				"sent":    fmt.Sprintf("%d", sent),
				"failed":  fmt.Sprintf("%d", failed),
			},
		})
		return
	}

	if item.Attempts >= q.cfg.MaxRetries {
		q.deadLetter(ctx, item, err)
		return
	}

	backoff := q.cfg.BaseRetryDelay << (item.Attempts - 1)
	item.ScheduledFor = q.now().UTC().Add(backoff)

	q.mu.Lock()
	q.insertLocked(item)
	q.updateDepthLocked()
	q.mu.Unlock()

	q.metrics.IncRetryScheduled()
	q.logger.Warn("queue item rescheduled",
		zap.String("queueId", item.ID),
		zap.String("requestId", item.RequestID),
		zap.Int("attempt", item.Attempts),
		zap.Duration("backoff", backoff),
		zap.Error(err),
	)
	q.emitter.Emit(events.Event{
		Type:      events.TypeRetried,
		RequestID: item.RequestID,
		QueueID:   item.ID,
		Fields: map[string]string{
			"attempt": fmt.Sprintf("%d", item.Attempts),
			"backoff": backoff.String(),
		},
	})
}

// deliverItem fans the item's units out to the provider. The returned error
// is non-nil only on wholesale failure, when not a single send succeeded;
// that is the only case the retry machinery acts on. faulted reports whether
// any send died in the loop itself (a recovered panic) rather than at the
// transport.
func (q *DeliveryQueue) deliverItem(ctx context.Context, item *domain.QueueItem) (sent int, failed int, faulted bool, err error) {
	var (
		mu      sync.Mutex
		faults  int
		lastErr error
	)

	markSuccess := func() {
		mu.Lock()
		sent++
		mu.Unlock()
	}
	markFailure := func(sendErr error) {
		mu.Lock()
		failed++
		lastErr = sendErr
		mu.Unlock()
	}
	markFault := func(faultErr error) {
		mu.Lock()
		failed++
		faults++
		lastErr = faultErr
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(itemSendConcurrency)

	for i := range item.Notifications {
		unit := &item.Notifications[i]
		meta := provider.Metadata{
			RequestID:  item.RequestID,
			QueueID:    item.ID,
			TemplateID: unit.TemplateID,
			Priority:   unit.Priority,
		}

		if unit.DeliveryType == domain.DeliveryTopic {
			g.Go(func() error {
				defer q.recoverSend(markFault)
				q.sendToTopic(gctx, unit, meta, item.Attempts, markSuccess, markFailure)
				return nil
			})
			continue
		}

		for j := range unit.Devices {
			device := unit.Devices[j]
			g.Go(func() error {
				defer q.recoverSend(markFault)
				q.sendToDevice(gctx, unit, device, meta, item.Attempts, markSuccess, markFailure)
				return nil
			})
		}
	}

	_ = g.Wait()

	if sent == 0 && failed > 0 {
		return sent, failed, faults > 0, fmt.Errorf("all %d sends failed: %w", failed, lastErr)
	}
	return sent, failed, faults > 0, nil
}

// recoverSend converts a provider panic into a counted fault so one bad
// send cannot take the whole process down.
func (q *DeliveryQueue) recoverSend(markFault func(error)) {
	if r := recover(); r != nil {
		err := fmt.Errorf("provider panic: %v", r)
		q.logger.Error("recovered panic during send", zap.Error(err))
		markFault(err)
	}
}

func (q *DeliveryQueue) sendToTopic(
	ctx context.Context,
	unit *domain.DispatchUnit,
	meta provider.Metadata,
	attempt int,
	markSuccess func(),
	markFailure func(error),
) {
	sendCtx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
	defer cancel()

	start := q.now()
	resp, err := q.provider.SendToTopic(sendCtx, unit.TopicName, unit.Content, meta)
	q.metrics.ObserveSendDuration(domain.DeliveryTopic.String(), q.now().Sub(start))

	record := &domain.DeliveryRecord{
		RequestID:    meta.RequestID,
		QueueID:      meta.QueueID,
		TemplateID:   meta.TemplateID,
		DeliveryType: domain.DeliveryTopic,
		TopicName:    unit.TopicName,
		Attempt:      attempt,
	}

	if err != nil {
		record.Error = err.Error()
		q.recordDelivery(ctx, record)
		q.metrics.IncSend(domain.DeliveryTopic.String(), "failure")
		markFailure(err)
		return
	}

	record.Success = true
	if resp != nil {
		record.ProviderMessageID = resp.MessageID
	}
	q.recordDelivery(ctx, record)
	q.metrics.IncSend(domain.DeliveryTopic.String(), "success")
	markSuccess()
}

func (q *DeliveryQueue) sendToDevice(
	ctx context.Context,
	unit *domain.DispatchUnit,
	device domain.Device,
	meta provider.Metadata,
	attempt int,
	markSuccess func(),
	markFailure func(error),
) {
	sendCtx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
	defer cancel()

	start := q.now()
	resp, err := q.provider.SendToDevice(sendCtx, device, unit.Content, meta)
	q.metrics.ObserveSendDuration(domain.DeliveryIndividual.String(), q.now().Sub(start))

	record := &domain.DeliveryRecord{
		RequestID:    meta.RequestID,
		QueueID:      meta.QueueID,
		TemplateID:   meta.TemplateID,
		DeliveryType: domain.DeliveryIndividual,
		UserID:       unit.UserID,
		DeviceID:     device.ID,
		Attempt:      attempt,
	}

	if err != nil {
		record.Error = err.Error()
		q.recordDelivery(ctx, record)
		q.metrics.IncSend(domain.DeliveryIndividual.String(), "failure")

		if provider.IsUnregistered(err) {
			q.deactivateDevice(ctx, device)
		}
		markFailure(err)
		return
	}

	record.Success = true
	if resp != nil {
		record.ProviderMessageID = resp.MessageID
	}
	q.recordDelivery(ctx, record)
	q.metrics.IncSend(domain.DeliveryIndividual.String(), "success")
	markSuccess()
}

func (q *DeliveryQueue) deactivateDevice(ctx context.Context, device domain.Device) {
	if q.devices == nil {
		return
	}
	if err := q.devices.Deactivate(ctx, device.ID); err != nil {
		q.logger.Warn("failed to deactivate unregistered device",
			zap.String("deviceId", device.ID),
			zap.String("userId", device.UserID),
			zap.Error(err),
		)
		return
	}
	q.logger.Info("deactivated unregistered device",
		zap.String("deviceId", device.ID),
		zap.String("userId", device.UserID),
	)
}

func (q *DeliveryQueue) recordDelivery(ctx context.Context, record *domain.DeliveryRecord) {
	if q.deliveries == nil {
		return
	}
	if err := q.deliveries.Record(ctx, record); err != nil {
		q.logger.Warn("failed to persist delivery record",
			zap.String("requestId", record.RequestID),
			zap.String("queueId", record.QueueID),
			zap.Error(err),
		)
	}
}

func (q *DeliveryQueue) deadLetter(ctx context.Context, item *domain.QueueItem, cause error) {
	letter := domain.DeadLetter{
		Item:          *item,
		FailureReason: cause.Error(),
		FailedAt:      q.now().UTC(),
	}

	q.mu.Lock()
	q.deadLetters = append(q.deadLetters, letter)
	q.updateDepthLocked()
	q.mu.Unlock()

	q.metrics.IncDeadLettered()
	q.logger.Error("queue item dead-lettered",
		zap.String("queueId", item.ID),
		zap.String("requestId", item.RequestID),
		zap.Int("attempts", item.Attempts),
		zap.Error(cause),
	)
	q.emitter.Emit(events.Event{
		Type:      events.TypeDeadLettered,
		RequestID: item.RequestID,
		QueueID:   item.ID,
		Fields:    map[string]string{"reason": cause.Error()},
	})

	if q.mirror == nil {
		return
	}
	if err := q.mirror.PublishDeadLetter(ctx, letter); err != nil {
		q.logger.Warn("failed to mirror dead letter to broker",
			zap.String("queueId", item.ID),
			zap.Error(err),
		)
	}
}

func (q *DeliveryQueue) insertLocked(item *domain.QueueItem) {
	if item.Priority == domain.PriorityHigh {
		q.pending = append([]*domain.QueueItem{item}, q.pending...)
		return
	}
	q.pending = append(q.pending, item)
}

func (q *DeliveryQueue) updateDepthLocked() {
	q.metrics.SetQueueDepth(len(q.pending), len(q.deadLetters))
}
