package protocol

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("protocol: invalid config")

// Config holds the endpoint timers and thresholds.
type Config struct {
	NumSyncPackets        int           `yaml:"num_sync_packets"`
	SyncRetryInterval     time.Duration `yaml:"sync_retry_interval"`
	SyncTimeout           time.Duration `yaml:"sync_timeout"` // 0 waits forever
	RunningRetryInterval  time.Duration `yaml:"running_retry_interval"`
	KeepAliveInterval     time.Duration `yaml:"keepalive_interval"`
	QualityReportInterval time.Duration `yaml:"quality_report_interval"`
	DisconnectTimeout     time.Duration `yaml:"disconnect_timeout"`
	DisconnectNotifyStart time.Duration `yaml:"disconnect_notify_start"`
	ShutdownDelay         time.Duration `yaml:"shutdown_delay"`
	PendingOutputLimit    int           `yaml:"pending_output_limit"`
	PendingOutputWarn     int           `yaml:"pending_output_warn"`

	SyncRetryWarningThreshold int           `yaml:"sync_retry_warning_threshold"`
	SyncDurationWarning       time.Duration `yaml:"sync_duration_warning"`

	FPS int `yaml:"fps"`
}

// DefaultConfig returns the LAN-friendly defaults.
func DefaultConfig() Config {
	return Config{
		NumSyncPackets:            5,
		SyncRetryInterval:         200 * time.Millisecond,
		RunningRetryInterval:      200 * time.Millisecond,
		KeepAliveInterval:         200 * time.Millisecond,
		QualityReportInterval:     200 * time.Millisecond,
		DisconnectTimeout:         2000 * time.Millisecond,
		DisconnectNotifyStart:     500 * time.Millisecond,
		ShutdownDelay:             5000 * time.Millisecond,
		PendingOutputLimit:        128,
		PendingOutputWarn:         96,
		SyncRetryWarningThreshold: 10,
		SyncDurationWarning:       3000 * time.Millisecond,
		FPS:                       60,
	}
}

// Validate checks the fields an endpoint cannot run without.
func (c Config) Validate() error {
	switch {
	case c.NumSyncPackets < 1:
		return fmt.Errorf("%w: num_sync_packets must be positive, got %d", ErrInvalidConfig, c.NumSyncPackets)
	case c.SyncRetryInterval <= 0 || c.RunningRetryInterval <= 0:
		return fmt.Errorf("%w: retry intervals must be positive", ErrInvalidConfig)
	case c.KeepAliveInterval <= 0 || c.QualityReportInterval <= 0:
		return fmt.Errorf("%w: keepalive and quality report intervals must be positive", ErrInvalidConfig)
	case c.DisconnectTimeout < 0 || c.DisconnectNotifyStart < 0 || c.ShutdownDelay < 0 || c.SyncTimeout < 0:
		return fmt.Errorf("%w: timeouts cannot be negative", ErrInvalidConfig)
	case c.DisconnectTimeout > 0 && c.DisconnectNotifyStart > c.DisconnectTimeout:
		return fmt.Errorf("%w: disconnect_notify_start %v exceeds disconnect_timeout %v",
			ErrInvalidConfig, c.DisconnectNotifyStart, c.DisconnectTimeout)
	case c.PendingOutputLimit < 1:
		return fmt.Errorf("%w: pending_output_limit must be positive, got %d", ErrInvalidConfig, c.PendingOutputLimit)
	case c.FPS < 1:
		return fmt.Errorf("%w: fps must be positive, got %d", ErrInvalidConfig, c.FPS)
	}
	return nil
}
