package historian

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/messages"
	"github.com/jrsynow/dune/internal/task"
)

// Config tunes batching behavior.
type Config struct {
	// FlushInterval is the timer period at which buffered records are
	// written, mirroring a periodic-flush persistence loop.
	FlushInterval time.Duration
	// HighWatermark forces an immediate flush once any buffer reaches this
	// many pending records, instead of waiting for FlushInterval.
	HighWatermark int
}

// DefaultConfig returns the Historian's default tunables.
func DefaultConfig() Config {
	return Config{FlushInterval: 5 * time.Second, HighWatermark: 200}
}

// Historian is the bus subscriber task that batches VehicleState,
// PathControlState and EntityMonitoringState traffic and flushes it to
// Postgres on a timer or at a buffer high-watermark.
type Historian struct {
	*task.Task

	db  DBClient
	cfg Config

	vehicleBuf []VehicleStateRecord
	pathBuf    []PathControlRecord
	errorBuf   []EntityErrorRecord

	faults uint64
}

// New creates a Historian task bound to b, persisting through db.
func New(name string, entityID int32, b *bus.Bus, db DBClient, cfg Config) *Historian {
	h := &Historian{db: db, cfg: cfg}
	h.Task = task.New(name, entityID, b, nil, 1024)

	h.On(messages.KindVehicleState, h.handleVehicleState)
	h.On(messages.KindPathControlState, h.handlePathControlState)
	h.On(messages.KindEntityMonitoringState, h.handleEntityMonitoringState)

	h.SetTick(cfg.FlushInterval, h.onTick)
	return h
}

// Faults reports how many flush attempts have failed since startup.
func (h *Historian) Faults() uint64 { return atomic.LoadUint64(&h.faults) }

func (h *Historian) handleVehicleState(msg bus.Message) {
	vs := msg.Payload.(messages.VehicleState)
	h.vehicleBuf = append(h.vehicleBuf, VehicleStateRecord{
		Time:         time.Now(),
		EntityID:     vs.Header.SourceEntity,
		OpMode:       int(vs.OpMode),
		ManeuverType: vs.ManeuverType,
		ErrorCount:   vs.ErrorCount,
		ErrorEnts:    vs.ErrorEnts,
		ControlLoops: vs.ControlLoops,
		Flags:        vs.Flags,
	})
	if len(h.vehicleBuf) >= h.cfg.HighWatermark {
		h.flushVehicleStates()
	}
}

func (h *Historian) handlePathControlState(msg bus.Message) {
	pcs := msg.Payload.(messages.PathControlState)
	h.pathBuf = append(h.pathBuf, PathControlRecord{
		Time:             time.Now(),
		EntityID:         pcs.Header.SourceEntity,
		TrackBearing:     pcs.TrackBearing,
		Range:            pcs.Range,
		CourseError:      pcs.CourseError,
		Along:            pcs.Along,
		Cross:            pcs.Cross,
		Diverging:        pcs.Diverging,
		DivergenceReason: pcs.DivergenceReason,
	})
	if len(h.pathBuf) >= h.cfg.HighWatermark {
		h.flushPathControlStates()
	}
}

func (h *Historian) handleEntityMonitoringState(msg bus.Message) {
	ems := msg.Payload.(messages.EntityMonitoringState)
	h.errorBuf = append(h.errorBuf, EntityErrorRecord{
		Time:       time.Now(),
		ErrorCount: ems.CCount,
		ErrorEnts:  ems.CNames,
	})
	if len(h.errorBuf) >= h.cfg.HighWatermark {
		h.flushEntityErrors()
	}
}

func (h *Historian) onTick(now time.Time) {
	h.flushVehicleStates()
	h.flushPathControlStates()
	h.flushEntityErrors()
}

func (h *Historian) flushVehicleStates() {
	if len(h.vehicleBuf) == 0 {
		return
	}
	batch := h.vehicleBuf
	h.vehicleBuf = nil
	if err := h.db.InsertVehicleStates(batch); err != nil {
		atomic.AddUint64(&h.faults, 1)
		log.Printf("historian %s: failed to persist %d vehicle state records: %v", h.Name(), len(batch), err)
	}
}

func (h *Historian) flushPathControlStates() {
	if len(h.pathBuf) == 0 {
		return
	}
	batch := h.pathBuf
	h.pathBuf = nil
	if err := h.db.InsertPathControlStates(batch); err != nil {
		atomic.AddUint64(&h.faults, 1)
		log.Printf("historian %s: failed to persist %d path control records: %v", h.Name(), len(batch), err)
	}
}

func (h *Historian) flushEntityErrors() {
	if len(h.errorBuf) == 0 {
		return
	}
	batch := h.errorBuf
	h.errorBuf = nil
	if err := h.db.InsertEntityErrors(batch); err != nil {
		atomic.AddUint64(&h.faults, 1)
		log.Printf("historian %s: failed to persist %d entity error records: %v", h.Name(), len(batch), err)
	}
}
