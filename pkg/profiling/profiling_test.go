package profiling

import (
	"testing"

	"licensing-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestStartDisabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	require.NoError(t, Start(lc, &config.Config{}))
	lc.RequireStart().RequireStop()
}

func TestProfilerConfig(t *testing.T) {
	cfg := &config.Config{AppName: "licensing", AppEnv: "staging"}
	cfg.Pyroscope.Addr = "http://pyroscope:4040"

	pc := profilerConfig(cfg)
	require.Equal(t, "licensing", pc.ApplicationName)
	require.Equal(t, "http://pyroscope:4040", pc.ServerAddress)
	require.Equal(t, "staging", pc.Tags["env"])
	require.Len(t, pc.ProfileTypes, 6)
}
