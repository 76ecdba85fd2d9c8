package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/sugarme/camoseg/logutil"
)

var (
	// Set via CAMOSEG_DEBUG in the environment. 1 enables debug, 2 enables trace.
	Debug int
	// Set via CAMOSEG_CUDA in the environment
	Cuda bool
	// Set via CAMOSEG_WORKERS in the environment
	Workers int
	// Set via CAMOSEG_INPUT_SIZE in the environment
	InputSize int
)

const (
	defaultWorkers   = 4
	defaultInputSize = 352
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"CAMOSEG_DEBUG":      {"CAMOSEG_DEBUG", Debug, "Show additional debug information (1 = debug, 2 = trace)"},
		"CAMOSEG_CUDA":       {"CAMOSEG_CUDA", Cuda, "Run on CUDA when available"},
		"CAMOSEG_WORKERS":    {"CAMOSEG_WORKERS", Workers, fmt.Sprintf("Number of parallel image decoders (default %d)", defaultWorkers)},
		"CAMOSEG_INPUT_SIZE": {"CAMOSEG_INPUT_SIZE", InputSize, fmt.Sprintf("Network input size, a multiple of 32 (default %d)", defaultInputSize)},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// LogLevel maps Debug to a slog level.
func LogLevel() slog.Level {
	switch {
	case Debug >= 2:
		return logutil.LevelTrace
	case Debug == 1:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	// default values
	Workers = defaultWorkers
	InputSize = defaultInputSize

	LoadConfig()
}

func LoadConfig() {
	Debug = 0
	if debug := clean("CAMOSEG_DEBUG"); debug != "" {
		d, err := strconv.Atoi(debug)
		if err != nil {
			// any non-numeric value enables debug
			d = 1
		}
		Debug = d
	}

	Cuda = false
	if cuda := clean("CAMOSEG_CUDA"); cuda != "" {
		c, err := strconv.ParseBool(cuda)
		if err != nil {
			slog.Error("invalid setting, ignoring", "CAMOSEG_CUDA", cuda, "error", err)
		} else {
			Cuda = c
		}
	}

	Workers = defaultWorkers
	if workers := clean("CAMOSEG_WORKERS"); workers != "" {
		w, err := strconv.Atoi(workers)
		if err != nil || w <= 0 {
			slog.Error("invalid setting, ignoring", "CAMOSEG_WORKERS", workers, "error", err)
		} else {
			Workers = w
		}
	}

	InputSize = defaultInputSize
	if size := clean("CAMOSEG_INPUT_SIZE"); size != "" {
		s, err := strconv.Atoi(size)
		if err != nil || s <= 0 || s%32 != 0 {
			slog.Error("invalid setting, must be a positive multiple of 32, ignoring", "CAMOSEG_INPUT_SIZE", size, "error", err)
		} else {
			InputSize = s
		}
	}
}
