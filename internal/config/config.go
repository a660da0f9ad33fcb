// Package config loads the vehicle core's configuration from the
// environment (and an optional .env file), the way a tracker-style component loads its
// collector's configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the core reads at startup. Optional
// subsystems (Historian, Live-State Cache, Telemetry Relay) are disabled
// by leaving their address/DSN blank.
type Config struct {
	EntityID     int32
	SourceSystem int32

	CalibrationTime time.Duration
	SafeEnts        []string
	TickPeriod      time.Duration

	ControlPeriod     time.Duration
	StateReportPeriod time.Duration

	ATMPeriod   time.Duration
	ATMMinSpeed float64
	ATMMinYaw   float64

	CTMDistanceLimit float64
	CTMTimeLimit     time.Duration
	CTMNavUncFactor  float64

	PostgresDSN string
	RedisAddr   string
	NATSURL     string

	RecorderOutputDir string
	StatsReportPeriod time.Duration
}

// Load reads configuration from the environment, loading a .env file
// first if one is present. Every field has a usable default; nothing is
// required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		EntityID:          int32(intEnv("VANGUARD_ENTITY_ID", 1)),
		SourceSystem:      int32(intEnv("VANGUARD_SOURCE_SYSTEM", 1)),
		CalibrationTime:   durationSeconds("VANGUARD_CALIBRATION_TIME", 10*time.Second),
		SafeEnts:          splitCSV(os.Getenv("VANGUARD_SAFE_ENTS")),
		TickPeriod:        durationSeconds("VANGUARD_TICK_PERIOD", 500*time.Millisecond),
		ControlPeriod:     durationSeconds("VANGUARD_CONTROL_PERIOD", 200*time.Millisecond),
		StateReportPeriod: durationSeconds("VANGUARD_STATE_REPORT_PERIOD", time.Second),
		ATMPeriod:         durationSeconds("VANGUARD_ATM_PERIOD", time.Second),
		ATMMinSpeed:       floatEnv("VANGUARD_ATM_MIN_SPEED", 0.1),
		ATMMinYaw:         floatEnv("VANGUARD_ATM_MIN_YAW", 2.4),
		CTMDistanceLimit:  floatEnv("VANGUARD_CTM_DISTANCE_LIMIT", 10),
		CTMTimeLimit:      durationSeconds("VANGUARD_CTM_TIME_LIMIT", 3*time.Second),
		CTMNavUncFactor:   floatEnv("VANGUARD_CTM_NAV_UNC_FACTOR", 1),
		PostgresDSN:       os.Getenv("VANGUARD_POSTGRES_DSN"),
		RedisAddr:         os.Getenv("VANGUARD_REDIS_ADDR"),
		NATSURL:           os.Getenv("VANGUARD_NATS_URL"),
		RecorderOutputDir: envOrDefault("VANGUARD_RECORDER_DIR", "./vanguard-archive"),
		StatsReportPeriod: durationSeconds("VANGUARD_STATS_REPORT_PERIOD", 30*time.Second),
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func floatEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func durationSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	seconds, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}
