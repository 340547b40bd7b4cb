package config

import "time"

// Default polling and engine constants.
const (
	DefaultFastInterval   = 1 * time.Second
	DefaultMediumInterval = 15 * time.Second
	DefaultSlowInterval   = 45 * time.Second

	DefaultStaggerDelta    = 250 * time.Millisecond
	DefaultGateTimeout     = 5 * time.Second
	DefaultCollectTimeout  = 30 * time.Second
	DefaultHistoryCapacity = 50

	DefaultMetricsAddr    = ":9184"
	DefaultHealthInterval = 30 * time.Second
)
