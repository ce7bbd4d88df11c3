package service

import (
	"context"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

type eventRecorder struct {
	repo ports.SystemEventRepository
	log  zerolog.Logger
}

// NewEventRecorder creates a system event recorder.
// If repo is nil, events are only written to the logger.
func NewEventRecorder(repo ports.SystemEventRepository, log zerolog.Logger) ports.EventRecorder {
	return &eventRecorder{repo: repo, log: log}
}

// Record writes the event inside the caller's transaction; a failure aborts it.
func (r *eventRecorder) Record(ctx context.Context, tx pgx.Tx, event *domain.SystemEvent) error {
	r.logEvent(event)
	if r.repo == nil {
		return nil
	}
	return r.repo.Create(ctx, tx, event)
}

// RecordAfterCommit writes the event on its own. Failures are logged and dropped.
func (r *eventRecorder) RecordAfterCommit(ctx context.Context, event *domain.SystemEvent) {
	r.logEvent(event)
	if r.repo == nil {
		return
	}
	if err := r.repo.Create(ctx, nil, event); err != nil {
		r.log.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to persist system event")
	}
}

func (r *eventRecorder) logEvent(event *domain.SystemEvent) {
	e := r.log.Info().
		Str("event", string(event.Type)).
		Str("subject_type", event.SubjectType)
	if event.SubjectID != nil {
		e = e.Str("subject_id", event.SubjectID.String())
	}
	e.Msg("system event")
}

// recordLater queues an audit event for after commit.
func recordLater(hooks *afterCommit, events ports.EventRecorder, event *domain.SystemEvent) {
	hooks.add(func(ctx context.Context) {
		events.RecordAfterCommit(ctx, event)
	})
}

// notifyLater queues a notification for after commit. Delivery failures are
// logged; the committed work stands.
func notifyLater(hooks *afterCommit, notifier ports.Notifier, log zerolog.Logger, n domain.Notification) {
	if notifier == nil {
		return
	}
	hooks.add(func(ctx context.Context) {
		if err := notifier.Notify(ctx, n); err != nil {
			log.Warn().Err(err).Str("kind", n.Kind).Msg("failed to send notification")
		}
	})
}
