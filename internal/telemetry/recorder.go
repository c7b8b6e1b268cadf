// Package telemetry — recorder.go
// Recording helper functions for arbiter lifecycle telemetry.
// Each function emits both an OTel log event and increments a metric
// counter, mirroring each other so a dashboard built on either signal
// stays in sync.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/procwatch/arbiter"
	loggerName        = "arbiter"
)

// recorderInstruments holds all lazy-initialized OTel metric instruments.
type recorderInstruments struct {
	watcherStartTotal      metric.Int64Counter
	watcherStopTotal       metric.Int64Counter
	watcherCrashTotal      metric.Int64Counter
	watcherQuarantineTotal metric.Int64Counter
	reconcileCycleTotal    metric.Int64Counter
	configReloadTotal      metric.Int64Counter
	controlCommandTotal    metric.Int64Counter
	arbiterLifecycleTotal  metric.Int64Counter
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers all recorder metric instruments against the
// current global MeterProvider. Called lazily on first use as a safety
// net if Init hasn't run yet.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.watcherStartTotal, _ = m.Int64Counter("arbiter.watcher.starts.total",
			metric.WithDescription("Total watcher process starts"),
		)
		inst.watcherStopTotal, _ = m.Int64Counter("arbiter.watcher.stops.total",
			metric.WithDescription("Total watcher process stops"),
		)
		inst.watcherCrashTotal, _ = m.Int64Counter("arbiter.watcher.crashes.total",
			metric.WithDescription("Total watcher process crash detections"),
		)
		inst.watcherQuarantineTotal, _ = m.Int64Counter("arbiter.watcher.quarantines.total",
			metric.WithDescription("Total watcher crash-loop quarantines"),
		)
		inst.reconcileCycleTotal, _ = m.Int64Counter("arbiter.reconcile.cycles.total",
			metric.WithDescription("Total reconciliation cycles"),
		)
		inst.configReloadTotal, _ = m.Int64Counter("arbiter.config.reloads.total",
			metric.WithDescription("Total config reload attempts"),
		)
		inst.controlCommandTotal, _ = m.Int64Counter("arbiter.control.commands.total",
			metric.WithDescription("Total control-plane commands handled"),
		)
		inst.arbiterLifecycleTotal, _ = m.Int64Counter("arbiter.lifecycle.total",
			metric.WithDescription("Total arbiter lifecycle transitions"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and key-value attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// errKV returns a log KeyValue with the error message, or empty string if nil.
func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

// severity returns SeverityInfo on success, SeverityError on failure.
func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

// RecordWatcherStart records a watcher process start (metrics + log event).
func RecordWatcherStart(ctx context.Context, watcher string, pid int, err error) {
	initInstruments()
	status := statusStr(err)
	inst.watcherStartTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("watcher", watcher),
			attribute.String("status", status),
		),
	)
	emit(ctx, "watcher.start", severity(err),
		otellog.String("watcher", watcher),
		otellog.Int("pid", pid),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordWatcherStop records a watcher process stop (metrics + log event).
func RecordWatcherStop(ctx context.Context, watcher string, pid int, err error) {
	initInstruments()
	status := statusStr(err)
	inst.watcherStopTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("watcher", watcher),
			attribute.String("status", status),
		),
	)
	emit(ctx, "watcher.stop", severity(err),
		otellog.String("watcher", watcher),
		otellog.Int("pid", pid),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordWatcherCrash records a detected watcher child crash.
func RecordWatcherCrash(ctx context.Context, watcher string, pid int, exitCode int) {
	initInstruments()
	inst.watcherCrashTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("watcher", watcher)),
	)
	emit(ctx, "watcher.crash", otellog.SeverityWarn,
		otellog.String("watcher", watcher),
		otellog.Int("pid", pid),
		otellog.Int("exit_code", exitCode),
	)
}

// RecordWatcherQuarantine records a crash-loop quarantine.
func RecordWatcherQuarantine(ctx context.Context, watcher string) {
	initInstruments()
	inst.watcherQuarantineTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("watcher", watcher)),
	)
	emit(ctx, "watcher.quarantine", otellog.SeverityWarn,
		otellog.String("watcher", watcher),
	)
}

// RecordReconcileCycle records a reconciliation cycle with outcome counts.
func RecordReconcileCycle(ctx context.Context, added, changed, deleted int, err error) {
	initInstruments()
	inst.reconcileCycleTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Int("added", added),
			attribute.Int("changed", changed),
			attribute.Int("deleted", deleted),
			attribute.String("status", statusStr(err)),
		),
	)
	emit(ctx, "reconcile.cycle", severity(err),
		otellog.Int("added", added),
		otellog.Int("changed", changed),
		otellog.Int("deleted", deleted),
		errKV(err),
	)
}

// RecordConfigReload records a config reload attempt.
func RecordConfigReload(ctx context.Context, revision string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.configReloadTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	emit(ctx, "config.reload", severity(err),
		otellog.String("revision", revision),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordControlCommand records a control-plane command dispatch.
func RecordControlCommand(ctx context.Context, command string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.controlCommandTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
	emit(ctx, "control.command", severity(err),
		otellog.String("command", command),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordArbiterLifecycle records an arbiter-wide lifecycle transition
// ("started" or "stopped").
func RecordArbiterLifecycle(ctx context.Context, event string) {
	initInstruments()
	inst.arbiterLifecycleTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
	emit(ctx, "arbiter.lifecycle", otellog.SeverityInfo,
		otellog.String("event", event),
	)
}
