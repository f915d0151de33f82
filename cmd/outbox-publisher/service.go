package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-serials/internal/orderclient"
	"github.com/angelmondragon/packfinderz-serials/pkg/config"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/metrics"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPollMs      = 500
	defaultMaxAttempts = 10
)

// outcome is what happened to one outbox row in a batch.
type outcome string

const (
	outcomeDelivered  outcome = "delivered"
	outcomeDuplicate  outcome = "duplicate"
	outcomeRetry      outcome = "retry"
	outcomeDeadLetter outcome = "dead_letter"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// sink hands one resolved row to its receiver. nil means the receiver has
// it; errDuplicate means an earlier attempt already delivered it.
type sink interface {
	Deliver(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error
}

type pinger interface {
	Ping(context.Context) error
}

var errDuplicate = errors.New("event already delivered")

type ServiceParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            dbClient
	Repository    outboxRepository
	Registry      registryResolver
	DLQRepository dlqRepository
	Sinks         map[registry.Sink]sink
	Metrics       *metrics.SerialMetrics
	// Dependencies are pinged once before the loop starts.
	Dependencies map[string]pinger
}

// Service drains outbox_events: each batch is claimed, delivered and
// bookkept inside one transaction.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	registry     registryResolver
	dlq          dlqRepository
	sinks        map[registry.Sink]sink
	metrics      *metrics.SerialMetrics
	deps         map[string]pinger
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	var errs error
	require := func(ok bool, what string) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%s is required", what))
		}
	}
	require(p.Config != nil, "config")
	require(p.Logger != nil, "logger")
	require(p.DB != nil, "database client")
	require(p.Repository != nil, "outbox repository")
	require(p.Registry != nil, "event registry")
	require(p.DLQRepository != nil, "dlq repository")
	require(len(p.Sinks) > 0, "at least one sink")
	if errs != nil {
		return nil, errs
	}

	cfg := p.Config.Outbox
	return &Service{
		logg:         p.Logger,
		db:           p.DB,
		repo:         p.Repository,
		registry:     p.Registry,
		dlq:          p.DLQRepository,
		sinks:        p.Sinks,
		metrics:      p.Metrics,
		deps:         p.Dependencies,
		batchSize:    positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// processBatch claims up to batchSize rows and settles each one. It reports
// whether any rows were found; only bookkeeping failures are returned.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	tally := map[outcome]int{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		for _, event := range events {
			result, err := s.processEvent(ctx, tx, event)
			if err != nil {
				return err
			}
			tally[result]++
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	total := 0
	fields := map[string]any{}
	for o, n := range tally {
		fields[string(o)] = n
		total += n
	}
	if total > 0 {
		fields["rows"] = total
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox.batch")
	}
	return total > 0, nil
}

func (s *Service) processEvent(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (outcome, error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return s.deadLetter(ctx, tx, event, nil, enums.OutboxDLQReasonNonRetryable, err)
	}
	target := s.sinks[resolved.Descriptor.Sink]
	if target == nil {
		err := fmt.Errorf("no sink configured for %s", resolved.Descriptor.Sink)
		return s.deadLetter(ctx, tx, event, resolved, enums.OutboxDLQReasonNonRetryable, err)
	}

	deliverErr := target.Deliver(ctx, event, resolved)
	if deliverErr == nil || errors.Is(deliverErr, errDuplicate) {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		result := outcomeDelivered
		if deliverErr != nil {
			result = outcomeDuplicate
		}
		s.record(ctx, event, resolved, result, nil)
		return result, nil
	}

	if registry.IsNonRetryable(deliverErr) {
		return s.deadLetter(ctx, tx, event, resolved, terminalReason(deliverErr), deliverErr)
	}
	if event.AttemptCount+1 >= s.maxAttempts {
		err := fmt.Errorf("max delivery attempts reached: %w", deliverErr)
		return s.deadLetter(ctx, tx, event, resolved, enums.OutboxDLQReasonMaxAttempts, err)
	}

	if err := s.repo.MarkFailedTx(tx, event.ID, deliverErr); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	s.record(ctx, event, resolved, outcomeRetry, deliverErr)
	return outcomeRetry, nil
}

// terminalReason tells receivers that refused the event apart from rows the
// publisher could not handle itself.
func terminalReason(err error) enums.OutboxDLQErrorReason {
	var statusErr *orderclient.StatusError
	if errors.As(err, &statusErr) && statusErr.Rejected() {
		return enums.OutboxDLQReasonRejected
	}
	return enums.OutboxDLQReasonNonRetryable
}

// deadLetter copies the row into the DLQ and retires it.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, resolved *registry.ResolvedEvent, reason enums.OutboxDLQErrorReason, cause error) (outcome, error) {
	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return "", fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return "", fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	ctx = s.logg.WithField(ctx, "error_reason", reason)
	s.record(ctx, event, resolved, outcomeDeadLetter, cause)
	return outcomeDeadLetter, nil
}

// record counts the outcome and logs it with the row's identifiers.
func (s *Service) record(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent, result outcome, cause error) {
	s.metrics.IncDelivery(string(event.EventType), string(result))

	fields := map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
		"outcome":       result,
	}
	if resolved != nil {
		fields["sink"] = resolved.Descriptor.Sink
		fields["event_id"] = resolved.Envelope.EventID
		if resolved.Envelope.RequestID != "" {
			fields["request_id"] = resolved.Envelope.RequestID
		}
		if resolved.Descriptor.Topic != "" {
			fields["topic"] = resolved.Descriptor.Topic
		}
	}
	ctx = s.logg.WithFields(ctx, fields)
	if cause == nil {
		s.logg.Debug(ctx, "outbox.delivered")
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", cause.Error()), "outbox.delivery_failed")
}
