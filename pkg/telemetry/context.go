package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	return newTelemetry(cfg, logger)
}

// NewTelemetryWithLogger creates a telemetry instance around an existing logger.
func NewTelemetryWithLogger(cfg *Config, logger *Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// InstrumentedContext carries a span, logger and timer for one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer

	command string
}

// StartPhase begins an instrumented pass over the backlog document at path.
func StartPhase(ctx context.Context, phase, path string) *InstrumentedContext {
	logger := FromContext(ctx).WithField("phase", phase)

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    logger.WithContext(ctx),
			Logger: logger,
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartPhaseSpan(ctx, phase, path)
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithField("trace_id", sc.TraceID().String())
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// StartCommand begins an instrumented CLI command. End records the command metric.
func StartCommand(ctx context.Context, command string) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:     ctx,
			Logger:  FromContext(ctx).WithCommand(command),
			Timer:   NewTimer(),
			command: command,
		}
	}

	spanCtx, span := tel.Tracer.StartCommandSpan(ctx, command)
	logger := tel.Logger.WithCommand(command)

	return &InstrumentedContext{
		Ctx:     logger.WithContext(spanCtx),
		Span:    span,
		Logger:  logger,
		Timer:   NewTimer(),
		command: command,
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
	if ic.command != "" {
		if tel := FromTelemetryContext(ic.Ctx); tel != nil {
			tel.Metrics.RecordCommand(ic.command, err, ic.Timer.Duration())
		}
	}
}

// RecordActionExecution runs fn inside an action span, then records metrics and an event.
// fn reports whether the action succeeded and its exit code.
func RecordActionExecution(ctx context.Context, token, workItemID string, fn func(ctx context.Context) (bool, int, error)) (bool, int, error) {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartActionSpan(ctx, token, workItemID)
		defer span.End()
	}

	started := time.Now()
	ok, exitCode, err := fn(ctx)
	duration := time.Since(started)

	if tel == nil {
		return ok, exitCode, err
	}

	span.SetAttributes(AttrExitCode.Int(exitCode))
	tel.Metrics.RecordActionRun(token, ok, duration)
	_ = tel.Events.PublishActionExecuted(workItemID, token, ok, exitCode, duration)

	switch {
	case err != nil:
		RecordError(span, err)
	case !ok:
		span.SetStatus(codes.Error, "action reported failure")
	default:
		RecordSuccess(span)
	}

	return ok, exitCode, err
}
