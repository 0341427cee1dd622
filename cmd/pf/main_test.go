package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	portforward "github.com/go-i2p/go-port-forward"
	"github.com/go-i2p/go-port-forward/config"
)

func TestRootCommandUsageErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no arguments", []string{}, "first argument must be a network interface IP or `any`"},
		{"interface name", []string{"eth0", "TCP/1/1"}, "first argument must be a network interface IP or `any`"},
		{"no ports", []string{"any"}, "no ports specified"},
		{"bad port", []string{"10.0.0.5", "TCP/x/1"}, "invalid internal port number: x"},
		{"bad protocol", []string{"10.0.0.5", "ICMP/1/1"}, "unrecognized protocol: ICMP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(tt.args)
			rootCmd.SetOut(&bytes.Buffer{})
			rootCmd.SetErr(&bytes.Buffer{})

			err := rootCmd.Execute()

			var exitErr *exitError
			require.True(t, errors.As(err, &exitErr), "got %v", err)
			assert.Equal(t, portforward.ExitUsage, exitErr.code)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRootCommandInvalidConfig(t *testing.T) {
	t.Setenv("PF_LOG_LEVEL", "loud")
	cfg = config.Config{}
	t.Cleanup(func() { cfg = config.Config{} })

	rootCmd.SetArgs([]string{"any", "TCP/1/1"})
	err := rootCmd.Execute()

	var exitErr *exitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, portforward.ExitUsage, exitErr.code)
	assert.ErrorContains(t, err, "invalid log level")
}

func TestInterfacesCommand(t *testing.T) {
	out := &bytes.Buffer{}
	rootCmd.SetArgs([]string{"interfaces"})
	rootCmd.SetOut(out)

	require.NoError(t, rootCmd.Execute())
	for _, iface := range mustInterfaces(t) {
		assert.Contains(t, out.String(), iface.Addr.String())
	}
}

func mustInterfaces(t *testing.T) []portforward.Interface {
	t.Helper()
	ifaces, err := portforward.Interfaces()
	require.NoError(t, err)
	return ifaces
}
