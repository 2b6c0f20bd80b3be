package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/go-charity/auth-server/internal/logging"
	"github.com/go-charity/auth-server/internal/telemetry"
	telemetrydomain "github.com/go-charity/auth-server/internal/telemetry/domain"
)

const instrumentationName = "github.com/go-charity/auth-server/internal/identity/service"

// Event types published by the identity services.
const (
	EventAccountCreated          = "account.created"
	EventLogin                   = "auth.login"
	EventOTPCreated              = "otp.created"
	EventOTPVerified             = "otp.verified"
	EventTokenRotated            = "token.rotated"
	EventPasswordChangeRequested = "password.change_requested"
	EventProfileSynced           = "profile.synced"
)

const eventSource = "auth-server"

// Observer bundles the logging, tracing, metrics and event sinks shared by the services.
// A zero-value dependency falls back to a no-op (or the global otel provider).
type Observer struct {
	log    logging.Logger
	events telemetry.EventEmitter
	tracer trace.Tracer

	rotations     metric.Int64Counter
	verifications metric.Int64Counter
	accounts      metric.Int64Counter
	logins        metric.Int64Counter
}

// NewObserver builds an Observer. Nil providers use the otel globals.
func NewObserver(log logging.Logger, events telemetry.EventEmitter, tp trace.TracerProvider, mp metric.MeterProvider) (*Observer, error) {
	if log == nil {
		log = logging.Discard()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	o := &Observer{log: log, events: events, tracer: tp.Tracer(instrumentationName)}
	var err error
	if o.rotations, err = meter.Int64Counter("auth.rotations", metric.WithDescription("Refresh token rotations by outcome.")); err != nil {
		return nil, err
	}
	if o.verifications, err = meter.Int64Counter("auth.otp.verifications", metric.WithDescription("OTP verifications by outcome.")); err != nil {
		return nil, err
	}
	if o.accounts, err = meter.Int64Counter("auth.accounts.created", metric.WithDescription("Accounts provisioned.")); err != nil {
		return nil, err
	}
	if o.logins, err = meter.Int64Counter("auth.logins", metric.WithDescription("Password logins by outcome.")); err != nil {
		return nil, err
	}
	return o, nil
}

// orNoop returns o, or an Observer that discards everything when o is nil.
func orNoop(o *Observer) *Observer {
	if o != nil {
		return o
	}
	o, err := NewObserver(nil, nil, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	if err != nil {
		panic(err)
	}
	return o
}

func (o *Observer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish records err on span and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (o *Observer) count(ctx context.Context, c metric.Int64Counter, err error, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String("outcome", outcome(err)))
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// emit publishes an auth event without blocking the request.
func (o *Observer) emit(ctx context.Context, eventType, userID string, err error, attrs map[string]string) {
	if o.events == nil {
		return
	}
	telemetry.EmitAsync(ctx, o.events, &telemetrydomain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Outcome:   outcome(err),
		Source:    eventSource,
		Attrs:     attrs,
		CreatedAt: time.Now().UTC(),
	}, o.log)
}
