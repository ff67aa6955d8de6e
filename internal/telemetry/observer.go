// Package telemetry routes internal invariant violations to a pluggable
// observer instead of aborting. The default observer writes through
// charmbracelet/log.
package telemetry

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/netplay/internal/frame"
)

// Severity grades a violation.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Kind names the subsystem a violation came from.
type Kind int

const (
	KindFrameSync Kind = iota
	KindInputQueue
	KindStateManagement
	KindNetworkProtocol
	KindChecksumMismatch
	KindSynchronization
	KindConfiguration
	KindInternalError
)

func (k Kind) String() string {
	switch k {
	case KindFrameSync:
		return "frame_sync"
	case KindInputQueue:
		return "input_queue"
	case KindStateManagement:
		return "state_management"
	case KindNetworkProtocol:
		return "network_protocol"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	case KindSynchronization:
		return "synchronization"
	case KindConfiguration:
		return "configuration"
	case KindInternalError:
		return "internal_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Violation describes one detected invariant breach or anomaly.
type Violation struct {
	Severity Severity
	Kind     Kind
	Message  string
	Frame    frame.Frame
	Fields   []any // alternating key/value pairs
}

// Observer receives violations. Implementations must be safe for concurrent use
// when shared between sessions.
type Observer interface {
	OnViolation(v Violation)
}

// Report builds a Violation and hands it to obs. A nil observer discards it.
func Report(obs Observer, sev Severity, kind Kind, f frame.Frame, msg string, kv ...any) {
	if obs == nil {
		return
	}
	obs.OnViolation(Violation{
		Severity: sev,
		Kind:     kind,
		Message:  msg,
		Frame:    f,
		Fields:   kv,
	})
}

// LogObserver writes violations to a charmbracelet logger.
type LogObserver struct {
	logger *log.Logger
}

// NewLogObserver creates an observer that logs through logger.
// A nil logger uses a stderr logger with the "netplay" prefix.
func NewLogObserver(logger *log.Logger) *LogObserver {
	if logger == nil {
		logger = NewLogger(log.WarnLevel)
	}
	return &LogObserver{logger: logger}
}

// OnViolation implements Observer.
func (o *LogObserver) OnViolation(v Violation) {
	kv := make([]any, 0, len(v.Fields)+4)
	kv = append(kv, "kind", v.Kind.String(), "frame", v.Frame)
	kv = append(kv, v.Fields...)

	switch v.Severity {
	case SeverityWarning:
		o.logger.Warn(v.Message, kv...)
	default:
		kv = append(kv, "severity", v.Severity.String())
		o.logger.Error(v.Message, kv...)
	}
}

// Collector stores violations in memory.
type Collector struct {
	mu         sync.Mutex
	violations []Violation
}

// OnViolation implements Observer.
func (c *Collector) OnViolation(v Violation) {
	c.mu.Lock()
	c.violations = append(c.violations, v)
	c.mu.Unlock()
}

// Violations returns a copy of everything collected so far.
func (c *Collector) Violations() []Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Violation, len(c.violations))
	copy(out, c.violations)
	return out
}

// Count returns how many violations of the given kind were collected.
func (c *Collector) Count(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.violations {
		if v.Kind == kind {
			n++
		}
	}
	return n
}

// Multi fans a violation out to several observers.
type Multi []Observer

// OnViolation implements Observer.
func (m Multi) OnViolation(v Violation) {
	for _, o := range m {
		if o != nil {
			o.OnViolation(v)
		}
	}
}

type discard struct{}

func (discard) OnViolation(Violation) {}

// Discard drops every violation.
var Discard Observer = discard{}

// NewLogger returns the stderr logger used across netplay.
func NewLogger(level log.Level) *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "netplay",
		Level:           level,
	})
}
