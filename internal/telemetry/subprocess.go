package telemetry

import (
	"os"
	"strings"
)

// Environment variables controlling where the arbiter's own OTel
// exporters send data. Set by the operator; read by [SetProcessOTELAttrs]
// and friends so spawned watcher children inherit a consistent endpoint.
const (
	EnvMetricsURL = "ARBITER_OTEL_METRICS_URL"
	EnvLogsURL    = "ARBITER_OTEL_LOGS_URL"
)

// buildResourceAttrs builds the OTEL_RESOURCE_ATTRIBUTES value from
// arbiter context vars present in the current process environment.
// Returns "" when no arbiter vars are found.
func buildResourceAttrs() string {
	var attrs []string
	if v := os.Getenv("ARBITER_WATCHER"); v != "" {
		attrs = append(attrs, "arbiter.watcher="+v)
	}
	if v := os.Getenv("ARBITER_INSTANCE"); v != "" {
		attrs = append(attrs, "arbiter.instance="+v)
	}
	return strings.Join(attrs, ",")
}

// SetProcessOTELAttrs sets OTEL-related variables in the current process
// environment so that every watcher child spawned via exec.Command
// inherits them automatically — no per-call injection needed.
//
// No-op when ARBITER_OTEL_METRICS_URL is not set.
func SetProcessOTELAttrs() {
	metricsURL := os.Getenv(EnvMetricsURL)
	if metricsURL == "" {
		return
	}
	if attrs := buildResourceAttrs(); attrs != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", attrs)
	}
}

// OTELEnvForSubprocess returns OTEL environment variables to inject into
// a watcher's child process when cmd.Env is built explicitly (overriding
// os.Environ). watcherName labels the child's resource attributes.
//
// Returns nil when arbiter telemetry is not active (EnvMetricsURL unset).
func OTELEnvForSubprocess(watcherName string) []string {
	metricsURL := os.Getenv(EnvMetricsURL)
	if metricsURL == "" {
		return nil
	}
	attrs := "arbiter.watcher=" + watcherName
	if base := buildResourceAttrs(); base != "" {
		attrs = base + "," + attrs
	}
	env := []string{
		"OTEL_RESOURCE_ATTRIBUTES=" + attrs,
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT=" + metricsURL,
	}
	if logsURL := os.Getenv(EnvLogsURL); logsURL != "" {
		env = append(env, "OTEL_EXPORTER_OTLP_LOGS_ENDPOINT="+logsURL)
	}
	return env
}
