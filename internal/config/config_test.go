package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv() {
	for _, key := range []string{
		"VANGUARD_ENTITY_ID", "VANGUARD_SOURCE_SYSTEM",
		"VANGUARD_CALIBRATION_TIME", "VANGUARD_SAFE_ENTS", "VANGUARD_TICK_PERIOD",
		"VANGUARD_CONTROL_PERIOD", "VANGUARD_STATE_REPORT_PERIOD",
		"VANGUARD_ATM_PERIOD", "VANGUARD_ATM_MIN_SPEED", "VANGUARD_ATM_MIN_YAW",
		"VANGUARD_CTM_DISTANCE_LIMIT", "VANGUARD_CTM_TIME_LIMIT", "VANGUARD_CTM_NAV_UNC_FACTOR",
		"VANGUARD_POSTGRES_DSN", "VANGUARD_REDIS_ADDR", "VANGUARD_NATS_URL",
		"VANGUARD_RECORDER_DIR", "VANGUARD_STATS_REPORT_PERIOD",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadUsesDefaultsWhenUnset(t *testing.T) {
	clearEnv()
	defer clearEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CalibrationTime != 10*time.Second {
		t.Errorf("expected default CalibrationTime 10s, got %s", cfg.CalibrationTime)
	}
	if cfg.TickPeriod != 500*time.Millisecond {
		t.Errorf("expected default TickPeriod 500ms, got %s", cfg.TickPeriod)
	}
	if cfg.SafeEnts != nil {
		t.Errorf("expected no SafeEnts by default, got %v", cfg.SafeEnts)
	}
	if cfg.PostgresDSN != "" || cfg.RedisAddr != "" || cfg.NATSURL != "" {
		t.Error("expected every optional subsystem address to default to empty")
	}
	if cfg.EntityID != 1 || cfg.SourceSystem != 1 {
		t.Errorf("expected default EntityID and SourceSystem of 1, got %d/%d", cfg.EntityID, cfg.SourceSystem)
	}
	if cfg.RecorderOutputDir != "./vanguard-archive" {
		t.Errorf("expected default recorder output dir, got %s", cfg.RecorderOutputDir)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("VANGUARD_CALIBRATION_TIME", "3.5")
	os.Setenv("VANGUARD_SAFE_ENTS", "gps, dvl ,imu")
	os.Setenv("VANGUARD_ATM_MIN_YAW", "1.2")
	os.Setenv("VANGUARD_POSTGRES_DSN", "postgres://localhost/vanguard")
	os.Setenv("VANGUARD_ENTITY_ID", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CalibrationTime != 3500*time.Millisecond {
		t.Errorf("expected 3.5s calibration time, got %s", cfg.CalibrationTime)
	}
	expected := []string{"gps", "dvl", "imu"}
	if len(cfg.SafeEnts) != len(expected) {
		t.Fatalf("expected %d safe entities, got %v", len(expected), cfg.SafeEnts)
	}
	for i, e := range expected {
		if cfg.SafeEnts[i] != e {
			t.Errorf("expected SafeEnts[%d] = %s, got %s", i, e, cfg.SafeEnts[i])
		}
	}
	if cfg.ATMMinYaw != 1.2 {
		t.Errorf("expected ATMMinYaw 1.2, got %v", cfg.ATMMinYaw)
	}
	if cfg.PostgresDSN != "postgres://localhost/vanguard" {
		t.Errorf("expected PostgresDSN to be passed through, got %s", cfg.PostgresDSN)
	}
	if cfg.EntityID != 7 {
		t.Errorf("expected EntityID 7, got %d", cfg.EntityID)
	}
}

func TestLoadFallsBackOnUnparseableValues(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("VANGUARD_ATM_MIN_SPEED", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ATMMinSpeed != 0.1 {
		t.Errorf("expected fallback default 0.1 for an unparseable value, got %v", cfg.ATMMinSpeed)
	}
}
