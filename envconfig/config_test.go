package envconfig

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/camoseg/logutil"
)

func TestConfig(t *testing.T) {
	t.Setenv("CAMOSEG_DEBUG", "")
	LoadConfig()
	require.Equal(t, 0, Debug)
	require.Equal(t, slog.LevelInfo, LogLevel())
	t.Setenv("CAMOSEG_DEBUG", "1")
	LoadConfig()
	require.Equal(t, slog.LevelDebug, LogLevel())
	t.Setenv("CAMOSEG_DEBUG", "2")
	LoadConfig()
	require.Equal(t, logutil.LevelTrace, LogLevel())
	t.Setenv("CAMOSEG_DEBUG", "yes")
	LoadConfig()
	require.Equal(t, 1, Debug)
	t.Setenv("CAMOSEG_CUDA", "true")
	LoadConfig()
	require.True(t, Cuda)
}

func TestInputSize(t *testing.T) {
	cases := map[string]int{
		"":       defaultInputSize,
		"384":    384,
		" '416'": 416,
		"350":    defaultInputSize,
		"-32":    defaultInputSize,
		"abc":    defaultInputSize,
	}
	for v, want := range cases {
		t.Run(v, func(t *testing.T) {
			t.Setenv("CAMOSEG_INPUT_SIZE", v)
			LoadConfig()
			assert.Equal(t, want, InputSize)
		})
	}
}

func TestWorkers(t *testing.T) {
	t.Setenv("CAMOSEG_WORKERS", "0")
	LoadConfig()
	assert.Equal(t, defaultWorkers, Workers)
	t.Setenv("CAMOSEG_WORKERS", "8")
	LoadConfig()
	assert.Equal(t, 8, Workers)
	assert.Equal(t, "8", Values()["CAMOSEG_WORKERS"])
}
