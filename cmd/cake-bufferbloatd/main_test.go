package main

import (
	"errors"
	"testing"

	"github.com/galpt/cake-bufferbloatd/internal/config"
	"github.com/galpt/cake-bufferbloatd/internal/daemon"
	"github.com/stretchr/testify/require"
)

func TestExitCodeForMapsKnownErrors(t *testing.T) {
	require.Equal(t, exitClean, exitCodeFor(nil))
	require.Equal(t, exitConfigError, exitCodeFor(errConfig))
	require.Equal(t, exitTransportFailure, exitCodeFor(errTransportUnreachable))
	require.Equal(t, exitFallbackGiveUp, exitCodeFor(daemon.ErrGiveUp))
}

func TestExitCodeForWrapsCause(t *testing.T) {
	wrapped := errors.Join(errConfig, errors.New("wans[0].wan_name is required"))
	require.Equal(t, exitConfigError, exitCodeFor(wrapped))
}

func TestRunReturnsConfigErrorForMissingFile(t *testing.T) {
	err := run("/nonexistent/cake-bufferbloatd.yaml")
	require.Error(t, err)
	require.True(t, errors.Is(err, errConfig))
	require.Equal(t, exitConfigError, exitCodeFor(err))
}

func TestBuildTransportRejectsUnknownKind(t *testing.T) {
	wc := &config.WanConfig{
		WanName: "wan0",
		Router:  config.RouterConfig{Transport: "bogus", Host: "10.0.0.1"},
	}
	_, err := buildTransport(wc)
	require.Error(t, err)
}

func TestBuildTransportBuildsRESTClient(t *testing.T) {
	wc := &config.WanConfig{
		WanName: "wan0",
		Router:  config.RouterConfig{Transport: config.TransportREST, Host: "10.0.0.1", Port: 443},
		Monitoring: config.MonitoringConfig{
			IntervalMs: 50,
		},
	}
	tr, err := buildTransport(wc)
	require.NoError(t, err)
	require.NotNil(t, tr)
}
