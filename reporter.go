package portforward

import (
	"fmt"
	"io"
	"log/slog"
)

// Reporter receives operator-visible session events.
type Reporter interface {
	// MappingClosing is called before a tracked mapping is removed during Close.
	MappingClosing(m Mapping)
	// MappingCloseFailed is called when removal during Close fails.
	MappingCloseFailed(m Mapping, err error)
	// UnknownMapping is called when RemoveExplicit is asked to remove a
	// mapping this session did not open.
	UnknownMapping(m Mapping)
}

// LogReporter reports session events through a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r LogReporter) MappingClosing(m Mapping) {
	r.logger().Info("closing port mapping",
		"protocol", m.Protocol,
		"external_port", m.ExternalPort)
}

func (r LogReporter) MappingCloseFailed(m Mapping, err error) {
	r.logger().Warn("failed to close port mapping on exit",
		"protocol", m.Protocol,
		"external_port", m.ExternalPort,
		"error", err)
}

func (r LogReporter) UnknownMapping(m Mapping) {
	r.logger().Warn("mapping was not opened by this session, removing anyway",
		"protocol", m.Protocol,
		"external_port", m.ExternalPort)
}

// LineReporter writes one human-readable line per event. Progress goes to Out
// and failures to Err.
type LineReporter struct {
	Out io.Writer
	Err io.Writer
}

func (r LineReporter) MappingClosing(m Mapping) {
	fmt.Fprintf(r.Out, "Closing port %s %d...\n", m.Protocol, m.ExternalPort)
}

func (r LineReporter) MappingCloseFailed(m Mapping, err error) {
	fmt.Fprintf(r.Err, "Failed to close port %s %d on exit! - %v\n", m.Protocol, m.ExternalPort, err)
}

func (r LineReporter) UnknownMapping(m Mapping) {
	fmt.Fprintf(r.Out, "Remote port %s %d was not opened by this session! Removing anyway...\n", m.Protocol, m.ExternalPort)
}
