package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger provides structured logging for key events in steamwatch.
type EventLogger struct {
	logger  *slog.Logger
	steamID string
}

// NewEventLogger creates a new EventLogger with JSON output to stdout.
// It includes the monitored steam_id as a base attribute.
func NewEventLogger(steamID string) *EventLogger {
	return NewEventLoggerWithWriter(steamID, os.Stdout)
}

// NewEventLoggerWithWriter creates a new EventLogger with JSON output to a
// custom writer. Useful for testing or redirecting output.
func NewEventLoggerWithWriter(steamID string, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler).With(
		"steam_id", steamID,
	)
	return &EventLogger{
		logger:  logger,
		steamID: steamID,
	}
}

// LogCycleFailed logs a failed polling cycle.
// event: "cycle_failed"
// Attributes: tier, reason, elapsed_ms
func (el *EventLogger) LogCycleFailed(tier, reason string, elapsedMs int64) {
	el.logger.Warn("cycle_failed",
		"tier", tier,
		"reason", reason,
		"elapsed_ms", elapsedMs,
	)
}

// LogCycleSkipped logs a tier firing suppressed by the re-entrancy guard.
// event: "cycle_skipped"
// Attributes: tier, cycle
func (el *EventLogger) LogCycleSkipped(tier string, cycle int64) {
	el.logger.Warn("cycle_skipped",
		"tier", tier,
		"cycle", cycle,
	)
}

// LogGateTimeout logs a cycle abandoned because the rate gate could not be
// acquired within the configured timeout.
// event: "gate_timeout"
// Attributes: tier, wait_ms
func (el *EventLogger) LogGateTimeout(tier string, waitMs int64) {
	el.logger.Warn("gate_timeout",
		"tier", tier,
		"wait_ms", waitMs,
	)
}

// LogSessionStarted logs the opening of a play session window.
// event: "session_started"
// Attributes: activity, label
func (el *EventLogger) LogSessionStarted(activity, label string) {
	el.logger.Info("session_started",
		"activity", activity,
		"label", label,
	)
}

// LogSessionEnded logs a closed play session window.
// event: "session_ended"
// Attributes: activity, label, duration_min
func (el *EventLogger) LogSessionEnded(activity, label string, durationMin float64) {
	el.logger.Info("session_ended",
		"activity", activity,
		"label", label,
		"duration_min", durationMin,
	)
}

// LogSubscriberPanic logs a snapshot subscriber that panicked during
// delivery.
// event: "subscriber_panic"
// Attributes: subscription_id, panic
func (el *EventLogger) LogSubscriberPanic(subscriptionID int64, recovered string) {
	el.logger.Error("subscriber_panic",
		"subscription_id", subscriptionID,
		"panic", recovered,
	)
}

// LogObservationDropped logs a malformed observation dropped by the
// aggregator.
// event: "observation_dropped"
// Attributes: tier, reason
func (el *EventLogger) LogObservationDropped(tier, reason string) {
	el.logger.Warn("observation_dropped",
		"tier", tier,
		"reason", reason,
	)
}

// LogHealthSnapshot logs a periodic self-resource sample.
// event: "health_snapshot"
// Attributes: cpu_percent, rss_bytes
func (el *EventLogger) LogHealthSnapshot(cpuPercent float64, rssBytes uint64) {
	el.logger.Info("health_snapshot",
		"cpu_percent", cpuPercent,
		"rss_bytes", rssBytes,
	)
}

// Global logger management
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance.
// If no logger is set, returns a no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

// NoopEventLogger returns an event logger that discards all events.
// Useful for testing or when event logging is disabled.
func NoopEventLogger() *EventLogger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &EventLogger{
		logger: slog.New(handler),
	}
}
