package testutils

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/task"
)

func TestWaitForConditionSuccess(t *testing.T) {
	if err := WaitForCondition(func() bool { return true }, time.Second); err != nil {
		t.Errorf("WaitForCondition() should succeed, got error: %v", err)
	}
}

func TestWaitForConditionTimeout(t *testing.T) {
	err := WaitForCondition(func() bool { return false }, 50*time.Millisecond)
	if err == nil {
		t.Fatal("WaitForCondition() should time out")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected a timeout error, got: %v", err)
	}
}

func TestWaitForConditionBecomesTrue(t *testing.T) {
	counter := 0
	condition := func() bool {
		counter++
		return counter >= 3
	}

	if err := WaitForCondition(condition, time.Second); err != nil {
		t.Errorf("WaitForCondition() should succeed, got error: %v", err)
	}
	if counter < 3 {
		t.Errorf("expected condition to be polled at least 3 times, got %d", counter)
	}
}

func TestWaitForStateObservesFaultTransitionFromARunningTask(t *testing.T) {
	b := bus.New()
	tk := task.New("probe", 1, b, nil, 4)
	tk.On(1000, func(bus.Message) { panic("boom") })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tk.Run(ctx)

	b.Dispatch(bus.Message{Kind: 1000})

	if err := WaitForState(tk, task.StateFault, time.Second); err != nil {
		t.Fatalf("expected the task to reach StateFault: %v", err)
	}
}

func TestIntegrationTestsEnabledDefaultsToFalse(t *testing.T) {
	os.Unsetenv("VANGUARD_INTEGRATION_TESTS")
	if IntegrationTestsEnabled() {
		t.Error("expected integration tests to be disabled by default")
	}
}

func TestIntegrationTestsEnabledRespectsEnvVar(t *testing.T) {
	os.Setenv("VANGUARD_INTEGRATION_TESTS", "1")
	defer os.Unsetenv("VANGUARD_INTEGRATION_TESTS")

	if !IntegrationTestsEnabled() {
		t.Error("expected integration tests to be enabled when VANGUARD_INTEGRATION_TESTS=1")
	}
}
