package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gleamora/push-pipeline/internal/domain"
	"github.com/gleamora/push-pipeline/internal/observability"
	"github.com/gleamora/push-pipeline/internal/ratelimit"
	"github.com/gleamora/push-pipeline/internal/repository"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const defaultTemplateCacheTTL = 5 * time.Minute

// Builder resolves a validated request into ready-to-send dispatch units:
// which template, which topic or users, which devices, which variables.
type Builder struct {
	templates repository.TemplateStore
	devices   repository.DeviceStore
	targeter  repository.Targeter
	limiter   ratelimit.RateLimiter
	cache     *gocache.Cache
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// BuildResult carries the produced units plus the recipients that were
// excluded without failing the build.
type BuildResult struct {
	Units                   []domain.DispatchUnit
	SkippedNoDevice         int
	SkippedRateLimited      int
	SkippedMissingVariables int
}

func New(
	templates repository.TemplateStore,
	devices repository.DeviceStore,
	targeter repository.Targeter,
	limiter ratelimit.RateLimiter,
	cacheTTL time.Duration,
	logger *zap.Logger,
) (*Builder, error) {
	if templates == nil {
		return nil, fmt.Errorf("template store is required")
	}
	if devices == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if limiter == nil {
		limiter = ratelimit.AllowAll{}
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultTemplateCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Builder{
		templates: templates,
		devices:   devices,
		targeter:  targeter,
		limiter:   limiter,
		cache:     gocache.New(cacheTTL, 2*cacheTTL),
		logger:    logger,
	}, nil
}

func (b *Builder) SetMetrics(metrics *observability.Metrics) {
	if b == nil {
		return
	}
	b.metrics = metrics
}

// Build resolves template, delivery mode, audience, and variables for the
// request. Per-recipient failures (missing variables) are excluded, not
// fatal; an empty audience is fatal.
func (b *Builder) Build(ctx context.Context, req *domain.NotificationRequest) (*BuildResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is required", domain.ErrValidation)
	}

	templateID, err := resolveTemplateID(req)
	if err != nil {
		return nil, err
	}

	tpl, err := b.activeTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	vars := buildVariables(req)
	priority := req.NormalizedPriority()

	// The delivery-mode decision happens once, before recipient resolution:
	// broadcast-shaped kinds and explicit topic overrides take the topic path.
	if req.Kind.IsBroadcast() || req.Options.TopicOverride != "" {
		return b.buildTopicUnit(req, tpl, vars, priority)
	}

	return b.buildIndividualUnits(ctx, req, tpl, vars, priority)
}

func (b *Builder) buildTopicUnit(
	req *domain.NotificationRequest,
	tpl *domain.Template,
	vars map[string]string,
	priority domain.Priority,
) (*BuildResult, error) {
	topic, replacedOverride := resolveTopicName(req)
	if replacedOverride {
		b.logger.Warn("unknown topic override, falling back to all-users",
			zap.String("override", req.Options.TopicOverride),
			zap.String("kind", req.Kind.String()),
		)
	}

	if missing := tpl.MissingVariables(vars); len(missing) > 0 {
		return nil, fmt.Errorf("%w: template %s missing variables: %s",
			domain.ErrResolution, tpl.ID, strings.Join(missing, ", "))
	}

	unit := domain.DispatchUnit{
		DeliveryType: domain.DeliveryTopic,
		TopicName:    topic,
		TemplateID:   tpl.ID,
		Content:      render(tpl, vars),
		Variables:    vars,
		Priority:     priority,
	}

	b.metrics.AddUnitsBuilt(domain.DeliveryTopic.String(), 1)
	return &BuildResult{Units: []domain.DispatchUnit{unit}}, nil
}

func (b *Builder) buildIndividualUnits(
	ctx context.Context,
	req *domain.NotificationRequest,
	tpl *domain.Template,
	vars map[string]string,
	priority domain.Priority,
) (*BuildResult, error) {
	userIDs, err := b.resolveUserIDs(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &BuildResult{}

	for _, userID := range userIDs {
		allowed, limitErr := b.limiter.Allow(ctx, userID)
		if limitErr != nil {
			// The limiter is protective, not load-bearing; on infrastructure
			// failure the user stays in the audience.
			b.logger.Warn("rate limiter check failed, allowing user",
				zap.String("userId", userID),
				zap.Error(limitErr),
			)
			allowed = true
		}
		if !allowed {
			result.SkippedRateLimited++
			b.metrics.IncUserRateLimited()
			continue
		}

		devices, err := b.devices.EligibleByUser(ctx, userID, req.Kind)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve devices for user %s: %w", userID, err)
		}
		if len(devices) == 0 {
			// Users with no eligible device are silently excluded.
			result.SkippedNoDevice++
			continue
		}

		if missing := tpl.MissingVariables(vars); len(missing) > 0 {
			result.SkippedMissingVariables++
			b.logger.Warn("dispatch unit dropped: missing required variables",
				zap.String("userId", userID),
				zap.String("templateId", tpl.ID),
				zap.Strings("missing", missing),
			)
			continue
		}

		result.Units = append(result.Units, domain.DispatchUnit{
			DeliveryType: domain.DeliveryIndividual,
			UserID:       userID,
			Devices:      devices,
			TemplateID:   tpl.ID,
			Content:      render(tpl, vars),
			Variables:    vars,
			Priority:     priority,
		})
	}

	if len(result.Units) == 0 && result.SkippedMissingVariables == 0 {
		return nil, fmt.Errorf("%w: %d users resolved, none eligible",
			domain.ErrNoRecipients, len(userIDs))
	}

	b.metrics.AddUnitsBuilt(domain.DeliveryIndividual.String(), len(result.Units))
	return result, nil
}

func (b *Builder) resolveUserIDs(ctx context.Context, req *domain.NotificationRequest) ([]string, error) {
	recipients := req.Recipients

	switch {
	case recipients.UserID != "":
		return []string{recipients.UserID}, nil

	case len(recipients.UserIDs) > 0:
		seen := make(map[string]struct{}, len(recipients.UserIDs))
		ids := make([]string, 0, len(recipients.UserIDs))
		for _, id := range recipients.UserIDs {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: recipient list is empty", domain.ErrNoRecipients)
		}
		return ids, nil

	case !recipients.Criteria.IsZero():
		if b.targeter == nil {
			return nil, fmt.Errorf("%w: criteria targeting is not configured", domain.ErrResolution)
		}
		ids, err := b.targeter.ResolveUsersByCriteria(ctx, *recipients.Criteria)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve targeting criteria: %w", err)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: criteria matched no users", domain.ErrNoRecipients)
		}
		return ids, nil

	case recipients.FromPayload:
		userID := strings.TrimSpace(req.PayloadString("userId"))
		if userID == "" {
			return nil, fmt.Errorf("%w: payload carries no user id", domain.ErrResolution)
		}
		return []string{userID}, nil
	}

	return nil, fmt.Errorf("%w: recipients are not resolvable", domain.ErrResolution)
}

// activeTemplate is a read-through cache over the template store. Population
// is idempotent; a racing re-fetch simply overwrites the same entry.
func (b *Builder) activeTemplate(ctx context.Context, id string) (*domain.Template, error) {
	if cached, ok := b.cache.Get(id); ok {
		if tpl, ok := cached.(*domain.Template); ok {
			return tpl, nil
		}
	}

	tpl, err := b.templates.FindActiveByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no active template %q", domain.ErrResolution, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %q: %w", id, err)
	}

	b.cache.Set(id, tpl, gocache.DefaultExpiration)
	return tpl, nil
}
