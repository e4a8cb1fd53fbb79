package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"threadgate/internal/notify"
)

// NewEmitter returns an Emitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEmitter(provider *sdklog.LoggerProvider) notify.Emitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("threadgate.notify")}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *notify.Event) error { return nil }

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts the notification to an OTel log record and emits it. Best-effort.
func (e *otelEmitter) Emit(ctx context.Context, event *notify.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetBody(otellog.StringValue(event.Summary))
	if event.ID != "" {
		rec.AddAttributes(otellog.String("event_id", event.ID))
	}
	if event.Kind != "" {
		rec.AddAttributes(otellog.String("kind", event.Kind))
	}
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.ThreadID != "" {
		rec.AddAttributes(otellog.String("thread_id", event.ThreadID))
	}
	if event.Detail != "" {
		rec.AddAttributes(otellog.String("detail", event.Detail))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
