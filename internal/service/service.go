// Package service is the read and command surface shared by the HTTP and gRPC
// transports. Reads only touch committed snapshots; commands go through the
// poll loop.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/joshp123/plantcare/internal/automation"
	"github.com/joshp123/plantcare/internal/classify"
	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/fleet"
	"github.com/joshp123/plantcare/internal/history"
)

const DefaultCommandLimit = 20

// Commander submits manual commands.
type Commander interface {
	Submit(ctx context.Context, plantID string, action core.Action) (automation.Result, error)
}

// CommandLog lists past commands for a plant.
type CommandLog interface {
	Commands(ctx context.Context, plantID string, limit int) ([]history.Command, error)
}

// PlantView is a plant record with its automation state.
type PlantView struct {
	core.PlantRecord
	Automation automation.PlantState `json:"automation"`
}

type FleetView struct {
	Version uint64      `json:"version"`
	TakenAt time.Time   `json:"taken_at"`
	Plants  []PlantView `json:"plants"`
}

type SummaryView struct {
	classify.Summary
	Version         uint64    `json:"version"`
	TakenAt         time.Time `json:"taken_at"`
	WateringEnabled bool      `json:"watering_enabled"`
	InFlight        int       `json:"commands_in_flight"`
}

// LatestView is the latest reading of one device.
type LatestView struct {
	DeviceID      string      `json:"device_id"`
	PlantID       string      `json:"plant_id"`
	Moisture      float64     `json:"moisture"`
	Temperature   float64     `json:"temperature"`
	Light         float64     `json:"light"`
	WaterDetected bool        `json:"water_detected"`
	Timestamp     time.Time   `json:"timestamp"`
	Stale         bool        `json:"stale"`
	Status        core.Status `json:"status"`
	LastError     string      `json:"last_error,omitempty"`
}

type CommandView struct {
	PlantID   string      `json:"plant_id"`
	DeviceID  string      `json:"device_id"`
	Action    core.Action `json:"action"`
	Status    string      `json:"status"`
	CommandID string      `json:"command_id,omitempty"`
	TicketID  string      `json:"ticket_id"`
	Outcome   string      `json:"outcome"`
	Error     string      `json:"error,omitempty"`
	IssuedAt  time.Time   `json:"issued_at"`
	DoneAt    time.Time   `json:"completed_at"`
}

type Service struct {
	store     *fleet.Store
	engine    *automation.Engine
	commander Commander
	log       CommandLog
}

// New builds the facade. log may be nil when history is disabled.
func New(store *fleet.Store, engine *automation.Engine, commander Commander, log CommandLog) *Service {
	return &Service{store: store, engine: engine, commander: commander, log: log}
}

func (s *Service) Fleet() FleetView {
	snap := s.store.Snapshot()
	view := FleetView{Version: snap.Version, TakenAt: snap.TakenAt, Plants: make([]PlantView, 0, len(snap.Plants))}
	for _, p := range snap.Plants {
		view.Plants = append(view.Plants, s.plantView(p))
	}
	return view
}

func (s *Service) Plant(id string) (PlantView, error) {
	p, ok := s.store.Get(id)
	if !ok {
		return PlantView{}, fmt.Errorf("%w: %s", core.ErrUnknownPlant, id)
	}
	return s.plantView(p), nil
}

func (s *Service) Summary() SummaryView {
	snap := s.store.Snapshot()
	return SummaryView{
		Summary:         classify.Summarize(snap.Plants),
		Version:         snap.Version,
		TakenAt:         snap.TakenAt,
		WateringEnabled: s.engine.WateringEnabled(),
		InFlight:        s.engine.InFlight(),
	}
}

// Latest returns the current reading for a device. It fails with ErrNoData
// until the device has reported at least once.
func (s *Service) Latest(deviceID string) (LatestView, error) {
	p, ok := s.store.ByDevice(deviceID)
	if !ok {
		return LatestView{}, fmt.Errorf("%w: device %s", core.ErrUnknownPlant, deviceID)
	}
	if p.Reading == nil {
		return LatestView{}, fmt.Errorf("%w: device %s", core.ErrNoData, deviceID)
	}
	return LatestView{
		DeviceID:      deviceID,
		PlantID:       p.ID,
		Moisture:      p.Reading.Moisture,
		Temperature:   p.Reading.Temperature,
		Light:         p.Reading.Light,
		WaterDetected: p.Reading.WaterDetected,
		Timestamp:     p.Reading.CapturedAt,
		Stale:         p.Degraded,
		Status:        p.Status,
		LastError:     p.LastError,
	}, nil
}

// Command parses action and submits it for a plant.
func (s *Service) Command(ctx context.Context, plantID, rawAction string) (CommandView, error) {
	action, err := core.ParseAction(rawAction)
	if err != nil {
		return CommandView{}, err
	}
	if _, ok := s.store.Get(plantID); !ok {
		return CommandView{}, fmt.Errorf("%w: %s", core.ErrUnknownPlant, plantID)
	}
	res, err := s.commander.Submit(ctx, plantID, action)
	if err != nil {
		return commandView(res), err
	}
	return commandView(res), nil
}

// CommandDevice resolves the plant polled from deviceID and submits action.
func (s *Service) CommandDevice(ctx context.Context, deviceID, rawAction string) (CommandView, error) {
	p, ok := s.store.ByDevice(deviceID)
	if !ok {
		return CommandView{}, fmt.Errorf("%w: device %s", core.ErrUnknownPlant, deviceID)
	}
	return s.Command(ctx, p.ID, rawAction)
}

// Commands lists recent commands, newest first. Without a command log only the
// last in-memory result is available.
func (s *Service) Commands(ctx context.Context, plantID string, limit int) ([]history.Command, error) {
	if _, ok := s.store.Get(plantID); !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownPlant, plantID)
	}
	if limit <= 0 {
		limit = DefaultCommandLimit
	}
	if s.log != nil {
		return s.log.Commands(ctx, plantID, limit)
	}
	state := s.engine.State(plantID)
	if state.LastResult == nil {
		return []history.Command{}, nil
	}
	return []history.Command{history.FromResult(*state.LastResult)}, nil
}

func (s *Service) plantView(p core.PlantRecord) PlantView {
	return PlantView{PlantRecord: p, Automation: s.engine.State(p.ID)}
}

func commandView(res automation.Result) CommandView {
	t := res.Ticket
	view := CommandView{
		PlantID:  t.PlantID,
		DeviceID: t.DeviceID,
		Action:   t.Action,
		TicketID: t.ID,
		Outcome:  res.Outcome,
		Error:    res.Error,
		IssuedAt: t.IssuedAt,
		DoneAt:   res.CompletedAt,
		Status:   "failed",
	}
	if res.Ack != nil {
		view.CommandID = res.Ack.CommandID
		view.Status = res.Ack.Status
	}
	return view
}
