// Package telemetry provides observability instrumentation for the backlog tooling.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and a small event publisher into a
// single Telemetry bundle that CLI commands carry in their context.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//	op := telemetry.StartCommand(ctx, "build")
//	defer op.End(err)
//
// # Logging
//
// Loggers carry backlog fields and travel in the context:
//
//	logger := telemetry.FromContext(ctx).WithWorkItemID("WI-PLAN2026022701-01")
//	logger.Info("starting work item")
//
// # Tracing
//
// Commands and action executions get their own spans. Exporters: otlp
// (gRPC), stdout, none. With tracing disabled, spans are never sampled.
//
// # Metrics
//
// Metrics live on a private registry and are exposed by StartMetricsServer
// when enabled:
//
//	backlog_commands_total{command,result}
//	backlog_command_duration_seconds{command}
//	backlog_validation_violations_total{category}
//	backlog_drift_checks_total{outcome}
//	backlog_work_items{kind,status}
//	backlog_actions_planned
//	backlog_action_runs_total{token,ok}
//	backlog_action_duration_seconds{token}
//	backlog_policy_warnings_total{rule}
//	backlog_errors_by_class_total{class}
//	backlog_errors_by_code_total{code}
//
// # Events
//
// The EventPublisher delivers build, check, drift, validation, action and
// policy events to subscribers. Delivery is synchronous unless EnableAsync
// is set, in which case events are buffered and flushed on Shutdown.
package telemetry
