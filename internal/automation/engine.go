// Package automation decides when a plant needs a control command and keeps
// the per-plant command state that prevents duplicate dispatch.
//
// Each plant moves through idle -> command-pending -> cooldown -> idle. A
// plant in command-pending only leaves that phase through Complete (or Expire
// when a completion never arrives). The cooldown clock starts when the
// dispatch completes, whether it succeeded or failed.
package automation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joshp123/plantcare/internal/classify"
	"github.com/joshp123/plantcare/internal/core"
)

// Phase is the automation state of one plant.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePending  Phase = "command-pending"
	PhaseCooldown Phase = "cooldown"
)

// Origin records who asked for a command.
type Origin string

const (
	OriginAutomatic Origin = "automatic"
	OriginManual    Origin = "manual"
)

// Ticket identifies one dispatch between Begin and Complete.
type Ticket struct {
	ID       string      `json:"id"`
	PlantID  string      `json:"plant_id"`
	DeviceID string      `json:"device_id"`
	Action   core.Action `json:"action"`
	Origin   Origin      `json:"origin"`
	IssuedAt time.Time   `json:"issued_at"`
}

// Result is the outcome of a completed dispatch.
type Result struct {
	Ticket      Ticket    `json:"ticket"`
	CompletedAt time.Time `json:"completed_at"`
	Ack         *core.Ack `json:"ack,omitempty"`
	Err         error     `json:"-"`
	Error       string    `json:"error,omitempty"`
	Outcome     string    `json:"outcome"`
}

// OK reports whether the device acknowledged the command.
func (r Result) OK() bool {
	return r.Err == nil
}

// PlantState is a read-only view of one plant's automation state.
type PlantState struct {
	PlantID       string    `json:"plant_id"`
	Phase         Phase     `json:"phase"`
	InFlight      bool      `json:"in_flight"`
	LastCommandAt time.Time `json:"last_command_at,omitzero"`
	CooldownUntil time.Time `json:"cooldown_until,omitzero"`
	Pending       *Ticket   `json:"pending,omitempty"`
	LastResult    *Result   `json:"last_result,omitempty"`
}

type plantState struct {
	inFlight      bool
	lastCommandAt time.Time
	pending       *Ticket
	lastResult    *Result
}

// Config controls automatic watering.
type Config struct {
	Thresholds      core.Thresholds
	WateringEnabled bool
	// PendingTimeout bounds how long a ticket may stay pending before Expire
	// resolves it as a timeout. Zero disables expiry.
	PendingTimeout time.Duration
	Now            func() time.Time
	NewID          func() string
}

// Engine holds automation state for every plant.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	states map[string]*plantState
}

func NewEngine(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Engine{cfg: cfg, states: make(map[string]*plantState)}
}

// WateringEnabled reports whether automatic watering is on.
func (e *Engine) WateringEnabled() bool {
	return e.cfg.WateringEnabled
}

// Evaluate decides from the current reading whether an automatic watering
// command should be issued now. It does not change state; Begin does.
func (e *Engine) Evaluate(p core.PlantRecord) (core.Action, bool) {
	if !e.cfg.WateringEnabled || !p.Live() {
		return "", false
	}
	if p.Reading == nil || p.Degraded {
		return "", false
	}
	now := e.cfg.Now()
	status := classify.Record(p, e.cfg.Thresholds, now)
	if status == core.StatusHealthy || !classify.LowMoisture(*p.Reading, e.cfg.Thresholds) {
		return "", false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if phase := e.phaseLocked(e.stateLocked(p.ID), now); phase != PhaseIdle {
		decisions.WithLabelValues(p.ID, "skipped_"+phaseLabel(phase)).Inc()
		return "", false
	}
	return core.ActionPumpOn, true
}

// Begin moves a plant into command-pending. It fails when a command is
// already in flight, or, for automatic commands, while cooldown is active.
func (e *Engine) Begin(p core.PlantRecord, action core.Action, origin Origin) (Ticket, error) {
	if p.DeviceID == "" {
		return Ticket{}, fmt.Errorf("%w: %s", core.ErrNoDevice, p.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	st := e.stateLocked(p.ID)
	if st.inFlight {
		decisions.WithLabelValues(p.ID, "rejected_in_flight").Inc()
		return Ticket{}, fmt.Errorf("%w: %s", core.ErrCommandInFlight, p.ID)
	}
	if origin == OriginAutomatic && e.phaseLocked(st, now) == PhaseCooldown {
		decisions.WithLabelValues(p.ID, "rejected_cooldown").Inc()
		return Ticket{}, fmt.Errorf("%w: %s until %s", core.ErrCooldown, p.ID, st.lastCommandAt.Add(e.cfg.Thresholds.Cooldown).UTC().Format(time.RFC3339))
	}

	ticket := Ticket{
		ID:       e.cfg.NewID(),
		PlantID:  p.ID,
		DeviceID: p.DeviceID,
		Action:   action,
		Origin:   origin,
		IssuedAt: now,
	}
	st.inFlight = true
	st.pending = &ticket
	decisions.WithLabelValues(p.ID, "begin_"+string(origin)).Inc()
	inFlight.WithLabelValues(p.ID).Set(1)
	return ticket, nil
}

// Complete resolves a pending ticket and starts cooldown. It returns false if
// the ticket is not the one currently pending for the plant.
func (e *Engine) Complete(t Ticket, ack *core.Ack, err error) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateLocked(t.PlantID)
	if st.pending == nil || st.pending.ID != t.ID {
		return Result{}, false
	}
	return e.completeLocked(st, t, ack, err), true
}

func (e *Engine) completeLocked(st *plantState, t Ticket, ack *core.Ack, err error) Result {
	now := e.cfg.Now()
	res := Result{
		Ticket:      t,
		CompletedAt: now,
		Ack:         ack,
		Err:         err,
		Outcome:     core.ErrorKind(err),
	}
	if err != nil {
		res.Error = err.Error()
	}
	st.inFlight = false
	st.pending = nil
	st.lastCommandAt = now
	st.lastResult = &res

	inFlight.WithLabelValues(t.PlantID).Set(0)
	completions.WithLabelValues(t.PlantID, string(t.Action), string(t.Origin), res.Outcome).Inc()
	return res
}

// Expire resolves tickets that have been pending longer than PendingTimeout.
func (e *Engine) Expire() []Result {
	if e.cfg.PendingTimeout <= 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	var out []Result
	for _, st := range e.states {
		if st.pending == nil || now.Sub(st.pending.IssuedAt) < e.cfg.PendingTimeout {
			continue
		}
		t := *st.pending
		cause := &core.CommandError{Device: t.DeviceID, Action: t.Action, Err: core.ErrTimeout}
		out = append(out, e.completeLocked(st, t, nil, cause))
	}
	return out
}

// Restore seeds the last command time, typically from the command log.
func (e *Engine) Restore(plantID string, lastCommandAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateLocked(plantID)
	if lastCommandAt.After(st.lastCommandAt) {
		st.lastCommandAt = lastCommandAt
	}
}

// State returns the automation view of one plant.
func (e *Engine) State(plantID string) PlantState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.viewLocked(plantID, e.stateLocked(plantID), e.cfg.Now())
}

// States returns views for every plant that has automation history.
func (e *Engine) States() map[string]PlantState {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	out := make(map[string]PlantState, len(e.states))
	for id, st := range e.states {
		out[id] = e.viewLocked(id, st, now)
	}
	return out
}

// InFlight counts plants with a pending command.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, st := range e.states {
		if st.inFlight {
			n++
		}
	}
	return n
}

func (e *Engine) viewLocked(id string, st *plantState, now time.Time) PlantState {
	view := PlantState{
		PlantID:       id,
		Phase:         e.phaseLocked(st, now),
		InFlight:      st.inFlight,
		LastCommandAt: st.lastCommandAt,
	}
	if !st.lastCommandAt.IsZero() {
		view.CooldownUntil = st.lastCommandAt.Add(e.cfg.Thresholds.Cooldown)
	}
	if st.pending != nil {
		t := *st.pending
		view.Pending = &t
	}
	if st.lastResult != nil {
		r := *st.lastResult
		view.LastResult = &r
	}
	return view
}

func (e *Engine) phaseLocked(st *plantState, now time.Time) Phase {
	if st.inFlight {
		return PhasePending
	}
	if !st.lastCommandAt.IsZero() && now.Sub(st.lastCommandAt) < e.cfg.Thresholds.Cooldown {
		return PhaseCooldown
	}
	return PhaseIdle
}

func (e *Engine) stateLocked(plantID string) *plantState {
	st, ok := e.states[plantID]
	if !ok {
		st = &plantState{}
		e.states[plantID] = st
	}
	return st
}

func phaseLabel(p Phase) string {
	if p == PhasePending {
		return "in_flight"
	}
	return string(p)
}
