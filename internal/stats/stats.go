// Package stats implements a system-wide health monitor: a task that
// subscribes to every message kind on the bus to track traffic volume,
// and polls the other tasks in the process for their current
// task.EntityState, so an operator can see at a glance whether any
// entity has gone to fault without needing to correlate individual
// message streams by hand.
package stats

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/messages"
	"github.com/jrsynow/dune/internal/task"
)

// MonitoredTask is the narrow surface a task exposes for health polling:
// *task.Task satisfies it, and so does any type embedding one that does not
// redeclare Name, State or LastError (supervisor.Supervisor's State returns
// a VehicleState, so its embedded *task.Task is watched instead).
type MonitoredTask interface {
	Name() string
	State() task.EntityState
	LastError() error
}

// allKinds is every message kind Monitor counts traffic for. Kept as an
// explicit list rather than iterating the Kind range so a newly added
// kind is a deliberate addition here too.
var allKinds = []messages.Kind{
	messages.KindEstimatedState,
	messages.KindDesiredPath,
	messages.KindDesiredZ,
	messages.KindDesiredSpeed,
	messages.KindBrake,
	messages.KindControlLoops,
	messages.KindPathControlState,
	messages.KindNavigationUncertainty,
	messages.KindDistance,
	messages.KindVehicleCommand,
	messages.KindVehicleState,
	messages.KindCalibration,
	messages.KindManeuverControlState,
	messages.KindPlanControl,
	messages.KindEntityMonitoringState,
	messages.KindAbort,
	messages.KindStopManeuver,
	messages.KindIdleManeuver,
}

// Monitor is the health-monitoring task.
type Monitor struct {
	*task.Task

	mu          sync.RWMutex
	kindCounts  map[messages.Kind]uint64
	total       uint64
	tasks       []MonitoredTask
	since       time.Time
	lastMessage atomic.Value // time.Time
}

// New creates a Monitor bound to b, counting every message kind and
// polling watched for their EntityState on each Snapshot.
func New(name string, entityID int32, b *bus.Bus, watched ...MonitoredTask) *Monitor {
	m := &Monitor{
		kindCounts: make(map[messages.Kind]uint64),
		tasks:      watched,
		since:      time.Now(),
	}
	m.Task = task.New(name, entityID, b, nil, 4096)

	for _, kind := range allKinds {
		k := kind
		m.On(k, func(msg bus.Message) { m.observe(k) })
	}
	return m
}

func (m *Monitor) observe(kind messages.Kind) {
	m.mu.Lock()
	m.kindCounts[kind]++
	m.mu.Unlock()
	atomic.AddUint64(&m.total, 1)
	m.lastMessage.Store(time.Now())
}

// TaskHealth is one watched task's status at Snapshot time.
type TaskHealth struct {
	Name  string
	State task.EntityState
	Error error
}

// Snapshot is a point-in-time view of bus traffic and task health.
type Snapshot struct {
	Total       uint64
	KindCounts  map[string]uint64
	Tasks       []TaskHealth
	Since       time.Time
	LastMessage time.Time
}

// Snapshot returns a copy of the monitor's current counters and the
// live health of every watched task.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]uint64, len(m.kindCounts))
	for k, v := range m.kindCounts {
		counts[k.String()] = v
	}

	tasks := make([]TaskHealth, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, TaskHealth{Name: t.Name(), State: t.State(), Error: t.LastError()})
	}

	lastMessage, _ := m.lastMessage.Load().(time.Time)
	return Snapshot{
		Total:       atomic.LoadUint64(&m.total),
		KindCounts:  counts,
		Tasks:       tasks,
		Since:       m.since,
		LastMessage: lastMessage,
	}
}

// String renders the snapshot as a human-readable report.
func (s Snapshot) String() string {
	out := fmt.Sprintf("Total Messages: %d\nUptime: %s\n", s.Total, time.Since(s.Since))
	for _, t := range s.Tasks {
		if t.Error != nil {
			out += fmt.Sprintf("  %-20s %-8s %v\n", t.Name, t.State, t.Error)
		} else {
			out += fmt.Sprintf("  %-20s %-8s\n", t.Name, t.State)
		}
	}
	return out
}

// FaultedTasks returns the names of every watched task currently in
// task.StateFault.
func (s Snapshot) FaultedTasks() []string {
	var names []string
	for _, t := range s.Tasks {
		if t.State == task.StateFault {
			names = append(names, t.Name)
		}
	}
	return names
}

// RunReport logs a Snapshot every interval until ctx is cancelled,
// logging once more on the way out so the final state is captured.
func (m *Monitor) RunReport(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("stats: final report:\n%s", m.Snapshot())
			return
		case <-ticker.C:
			snap := m.Snapshot()
			if faulted := snap.FaultedTasks(); len(faulted) > 0 {
				log.Printf("stats: %d task(s) in fault: %v", len(faulted), faulted)
			}
			log.Printf("stats: report:\n%s", snap)
		}
	}
}
