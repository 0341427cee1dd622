package portforward

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineReporter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	r := LineReporter{Out: out, Err: errOut}

	r.MappingClosing(Mapping{TCP, 8080})
	r.UnknownMapping(Mapping{UDP, 53})
	r.MappingCloseFailed(Mapping{UDP, 5001}, errors.New("timeout"))

	assert.Equal(t, "Closing port TCP 8080...\nRemote port UDP 53 was not opened by this session! Removing anyway...\n", out.String())
	assert.Equal(t, "Failed to close port UDP 5001 on exit! - timeout\n", errOut.String())
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := LogReporter{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	r.MappingCloseFailed(Mapping{TCP, 80}, errors.New("refused"))

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "protocol=TCP")
	assert.Contains(t, buf.String(), "external_port=80")
	assert.Contains(t, buf.String(), "error=refused")
}
