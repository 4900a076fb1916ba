package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gleamora/push-pipeline/internal/builder"
	"github.com/gleamora/push-pipeline/internal/domain"
	"github.com/gleamora/push-pipeline/internal/events"
	"github.com/gleamora/push-pipeline/internal/observability"
	"github.com/gleamora/push-pipeline/internal/queue"
)

// Manager is the single entry point of the pipeline: it validates the
// request, assigns the correlation id, delegates resolution to the builder,
// and hands the result to the delivery queue. Dispatch returns as soon as
// the item is queued; actual delivery is asynchronous.
type Manager struct {
	builder *builder.Builder
	queue   *queue.DeliveryQueue
	emitter *events.Emitter
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu             sync.Mutex
	accepted       uint64
	rejected       uint64
	failed         uint64
	totalBuildTime time.Duration
	measuredBuilds uint64
}

// DispatchResult acknowledges acceptance into the queue.
type DispatchResult struct {
	RequestID      string        `json:"requestId"`
	QueueID        string        `json:"queueId"`
	Units          int           `json:"units"`
	Recipients     int           `json:"recipients"`
	SkippedUsers   int           `json:"skippedUsers"`
	EstimatedDelay time.Duration `json:"estimatedDelay"`
}

// Stats is a point-in-time dispatch counter snapshot.
type Stats struct {
	Accepted         uint64        `json:"accepted"`
	Rejected         uint64        `json:"rejected"`
	Failed           uint64        `json:"failed"`
	AverageBuildTime time.Duration `json:"averageBuildTime"`
}

func New(
	b *builder.Builder,
	q *queue.DeliveryQueue,
	emitter *events.Emitter,
	logger *zap.Logger,
) (*Manager, error) {
	if b == nil {
		return nil, fmt.Errorf("builder is required")
	}
	if q == nil {
		return nil, fmt.Errorf("delivery queue is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		builder: b,
		queue:   q,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

// Dispatch validates and enqueues one notification request. Validation
// failures are returned immediately without any I/O.
func (m *Manager) Dispatch(ctx context.Context, req *domain.NotificationRequest) (*DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := req.Validate(); err != nil {
		m.countRejected()
		m.metrics.IncDispatch(kindLabel(req), "rejected")
		return nil, err
	}

	requestID := uuid.NewString()
	ctx = observability.WithRequestID(ctx, requestID)
	logger := m.logger.With(zap.String("requestId", requestID), zap.String("kind", req.Kind.String()))

	start := m.now()
	built, err := m.builder.Build(ctx, req)
	buildTime := m.now().Sub(start)
	m.metrics.ObserveBuildDuration(req.Kind.String(), buildTime)

	if err != nil {
		m.countFailed()
		m.metrics.IncDispatch(req.Kind.String(), "failed")
		logger.Warn("dispatch failed during build", zap.Error(err))
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}

	if len(built.Units) == 0 {
		// Every resolved recipient was dropped for missing variables.
		m.countFailed()
		m.metrics.IncDispatch(req.Kind.String(), "failed")
		logger.Warn("dispatch produced no units",
			zap.Int("skippedMissingVariables", built.SkippedMissingVariables),
		)
		return nil, fmt.Errorf("request %s: %w: no deliverable units", requestID, domain.ErrResolution)
	}

	enq, err := m.queue.Enqueue(built.Units, requestID, req.NormalizedPriority(), req.Options.Delay)
	if err != nil {
		m.countFailed()
		m.metrics.IncDispatch(req.Kind.String(), "failed")
		logger.Error("dispatch failed during enqueue", zap.Error(err))
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}

	m.countAccepted(buildTime)
	m.metrics.IncDispatch(req.Kind.String(), "accepted")

	recipients := 0
	for i := range built.Units {
		if built.Units[i].DeliveryType == domain.DeliveryTopic {
			recipients++
			continue
		}
		recipients += len(built.Units[i].Devices)
	}
	skipped := built.SkippedNoDevice + built.SkippedRateLimited + built.SkippedMissingVariables

	logger.Info("dispatch accepted",
		zap.String("queueId", enq.QueueID),
		zap.Int("units", len(built.Units)),
		zap.Int("recipients", recipients),
		zap.Int("skippedUsers", skipped),
		zap.Duration("buildTime", buildTime),
	)
	m.emitter.Emit(events.Event{
		Type:      events.TypeQueued,
		RequestID: requestID,
		QueueID:   enq.QueueID,
		Fields: map[string]string{
			"kind":       req.Kind.String(),
			"units":      fmt.Sprintf("%d", len(built.Units)),
			"recipients": fmt.Sprintf("%d", recipients),
		},
	})

	return &DispatchResult{
		RequestID:      requestID,
		QueueID:        enq.QueueID,
		Units:          len(built.Units),
		Recipients:     recipients,
		SkippedUsers:   skipped,
		EstimatedDelay: enq.EstimatedDelay,
	}, nil
}

// Stats returns dispatch counters since process start.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Accepted: m.accepted,
		Rejected: m.rejected,
		Failed:   m.failed,
	}
	if m.measuredBuilds > 0 {
		stats.AverageBuildTime = m.totalBuildTime / time.Duration(m.measuredBuilds)
	}
	return stats
}

func (m *Manager) countAccepted(buildTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted++
	m.totalBuildTime += buildTime
	m.measuredBuilds++
}

func (m *Manager) countRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
}

func (m *Manager) countFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func kindLabel(req *domain.NotificationRequest) string {
	if req == nil {
		return "unknown"
	}
	return req.Kind.String()
}
