package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/plantcare/internal/automation"
	"github.com/joshp123/plantcare/internal/classify"
	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/fleet"
)

type fakeSource struct {
	mu    sync.Mutex
	fetch map[string]func(ctx context.Context) (core.Reading, error)
}

func (s *fakeSource) set(deviceID string, fn func(ctx context.Context) (core.Reading, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetch[deviceID] = fn
}

func (s *fakeSource) FetchLatest(ctx context.Context, deviceID string) (core.Reading, error) {
	s.mu.Lock()
	fn := s.fetch[deviceID]
	s.mu.Unlock()
	if fn == nil {
		return core.Reading{}, &core.TransportError{Device: deviceID, Op: "fetch", Err: core.ErrUnreachable}
	}
	return fn(ctx)
}

func fixed(moisture float64) func(context.Context) (core.Reading, error) {
	return func(context.Context) (core.Reading, error) {
		return core.Reading{Moisture: moisture, Temperature: 21, Light: 50, WaterDetected: true, CapturedAt: time.Now()}, nil
	}
}

type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []core.Action
	release chan struct{}
	err     error
}

func (d *fakeDispatcher) Send(ctx context.Context, deviceID string, action core.Action) (core.Ack, error) {
	d.mu.Lock()
	d.sent = append(d.sent, action)
	release := d.release
	err := d.err
	d.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return core.Ack{}, &core.CommandError{Device: deviceID, Action: action, Err: core.ErrTimeout, Cause: ctx.Err()}
		}
	}
	if err != nil {
		return core.Ack{}, err
	}
	return core.Ack{CommandID: "1", Status: "command queued", At: time.Now()}, nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type harness struct {
	store      *fleet.Store
	engine     *automation.Engine
	source     *fakeSource
	dispatcher *fakeDispatcher
	loop       *Loop
	cancel     context.CancelFunc
	stopped    chan error
}

func newHarness(t *testing.T, watering bool, devices ...string) *harness {
	t.Helper()
	th := core.Thresholds{MoistureCritical: 20, MoistureLow: 40, LightLow: 10, LightHigh: 95, WaterGrace: time.Hour, PollInterval: time.Hour, Cooldown: time.Hour}
	var entries []fleet.Entry
	for _, id := range devices {
		entries = append(entries, fleet.Entry{ID: id, Name: id, DeviceID: id})
	}
	entries = append(entries, fleet.Entry{ID: "mock_1", Name: "Desert Rose", Reading: &core.Reading{Moisture: 25, Temperature: 75, Light: 92, WaterDetected: true, CapturedAt: time.Now()}})
	store, err := fleet.NewStore(th, entries)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	engine := automation.NewEngine(automation.Config{Thresholds: th, WateringEnabled: watering, PendingTimeout: time.Hour})
	h := &harness{
		store:      store,
		engine:     engine,
		source:     &fakeSource{fetch: map[string]func(context.Context) (core.Reading, error){}},
		dispatcher: &fakeDispatcher{},
	}
	loop, err := NewLoop(Config{Interval: time.Hour, FetchTimeout: 50 * time.Millisecond, DispatchTimeout: time.Second}, store, engine, h.source, h.dispatcher)
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	h.loop = loop
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.stopped = make(chan error, 1)
	go func() { h.stopped <- h.loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.stopped
	})
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.stopped:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		h.stopped <- nil
	case <-time.After(5 * time.Second):
		t.Fatalf("loop did not stop")
	}
}

func TestFetchFailureIsolation(t *testing.T) {
	h := newHarness(t, false, "plant_a", "plant_b", "plant_c")
	h.source.set("plant_a", fixed(55))
	h.source.set("plant_b", fixed(60))
	h.source.set("plant_c", fixed(65))
	h.start(t)

	if _, err := h.loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	h.source.set("plant_b", func(context.Context) (core.Reading, error) {
		return core.Reading{}, &core.TransportError{Device: "plant_b", Op: "fetch", Err: core.ErrUnreachable}
	})
	h.source.set("plant_a", fixed(50))
	snap, err := h.loop.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}

	byID := map[string]core.PlantRecord{}
	for _, p := range snap.Plants {
		byID[p.ID] = p
	}
	if a := byID["plant_a"]; a.Degraded || a.Reading == nil || a.Reading.Moisture != 50 {
		t.Fatalf("plant_a should be fresh at 50: %+v", a)
	}
	if c := byID["plant_c"]; c.Degraded || c.Reading == nil || c.Reading.Moisture != 65 {
		t.Fatalf("plant_c should be fresh at 65: %+v", c)
	}
	b := byID["plant_b"]
	if !b.Degraded || b.Reading == nil || b.Reading.Moisture != 60 || b.LastError == "" {
		t.Fatalf("plant_b should retain 60 and be degraded: %+v", b)
	}
	if m := byID["mock_1"]; m.Reading == nil || m.Reading.Moisture != 25 {
		t.Fatalf("seed plant changed: %+v", m)
	}
}

func TestFetchTimeoutRetainsReading(t *testing.T) {
	h := newHarness(t, false, "plant_a")
	h.source.set("plant_a", fixed(40))
	h.start(t)

	if _, err := h.loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	h.source.set("plant_a", func(ctx context.Context) (core.Reading, error) {
		<-ctx.Done()
		return core.Reading{}, &core.TransportError{Device: "plant_a", Op: "fetch", Err: core.TransportKind(ctx.Err()), Cause: ctx.Err()}
	})
	snap, err := h.loop.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}

	rec := snap.Plants[0]
	if !rec.Degraded || rec.Reading == nil || rec.Reading.Moisture != 40 {
		t.Fatalf("expected retained degraded reading, got %+v", rec)
	}
	summary := classify.Summarize(snap.Plants)
	if summary.MoistureSamples != 2 || summary.MeanMoisture != 32.5 {
		t.Fatalf("mean should include retained value: %+v", summary)
	}
	if summary.Degraded != 1 {
		t.Fatalf("expected one degraded plant, got %d", summary.Degraded)
	}
}

func TestCriticalPlantDispatchesOnce(t *testing.T) {
	h := newHarness(t, true, "plant_001")
	h.source.set("plant_001", fixed(15))
	h.dispatcher.release = make(chan struct{})
	h.start(t)

	for i := 0; i < 3; i++ {
		snap, err := h.loop.Tick(context.Background())
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		if snap.Plants[0].Status != core.StatusCritical {
			t.Fatalf("expected critical, got %s", snap.Plants[0].Status)
		}
	}
	if got := h.engine.State("plant_001").Phase; got != automation.PhasePending {
		t.Fatalf("expected pending while dispatch blocked, got %s", got)
	}
	close(h.dispatcher.release)
	h.stop(t)

	if got := h.dispatcher.count(); got != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", got)
	}
	state := h.engine.State("plant_001")
	if state.Phase != automation.PhaseCooldown || state.LastResult == nil || !state.LastResult.OK() {
		t.Fatalf("expected cooldown after success, got %+v", state)
	}
	rec, _ := h.store.Get("plant_001")
	if rec.LastWatered == nil {
		t.Fatalf("expected last watered to be set")
	}
}

func TestStopDrainsInFlightDispatch(t *testing.T) {
	h := newHarness(t, true, "plant_001")
	h.source.set("plant_001", fixed(10))
	h.dispatcher.release = make(chan struct{})
	h.start(t)

	if _, err := h.loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	h.cancel()
	select {
	case <-h.stopped:
		t.Fatalf("loop returned with a dispatch in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(h.dispatcher.release)
	select {
	case <-h.stopped:
		h.stopped <- nil
	case <-time.After(5 * time.Second):
		t.Fatalf("loop did not stop")
	}

	if h.engine.InFlight() != 0 {
		t.Fatalf("pending state not resolved on stop")
	}
	if _, err := h.loop.Submit(context.Background(), "plant_001", core.ActionPumpOff); !errors.Is(err, core.ErrStopped) {
		t.Fatalf("expected ErrStopped after stop, got %v", err)
	}
}

func TestSubmitManualCommand(t *testing.T) {
	h := newHarness(t, false, "plant_001")
	h.source.set("plant_001", fixed(70))
	var mu sync.Mutex
	var commands []automation.Result
	h.loop.Subscribe(ObserverFuncs{Command: func(r automation.Result) {
		mu.Lock()
		commands = append(commands, r)
		mu.Unlock()
	}})
	h.start(t)

	res, err := h.loop.Submit(context.Background(), "plant_001", core.ActionPumpOn)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Ticket.Origin != automation.OriginManual || res.Ack == nil || res.Ack.CommandID != "1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	rec, _ := h.store.Get("plant_001")
	if rec.LastWatered == nil {
		t.Fatalf("manual pump_on should set last watered")
	}

	if _, err := h.loop.Submit(context.Background(), "mock_1", core.ActionPumpOn); !errors.Is(err, core.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice for seed plant, got %v", err)
	}
	if _, err := h.loop.Submit(context.Background(), "nope", core.ActionPumpOn); !errors.Is(err, core.ErrUnknownPlant) {
		t.Fatalf("expected ErrUnknownPlant, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(commands) != 1 || commands[0].Ticket.Action != core.ActionPumpOn {
		t.Fatalf("expected one observed command, got %+v", commands)
	}
}

func TestSubmitRejectsWhileInFlight(t *testing.T) {
	h := newHarness(t, false, "plant_001")
	h.source.set("plant_001", fixed(70))
	h.dispatcher.release = make(chan struct{})
	h.start(t)

	first := make(chan error, 1)
	go func() {
		_, err := h.loop.Submit(context.Background(), "plant_001", core.ActionLightOn)
		first <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for h.engine.InFlight() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first command never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := h.loop.Submit(context.Background(), "plant_001", core.ActionLightOff); !errors.Is(err, core.ErrCommandInFlight) {
		t.Fatalf("expected ErrCommandInFlight, got %v", err)
	}
	close(h.dispatcher.release)
	if err := <-first; err != nil {
		t.Fatalf("first submit: %v", err)
	}
}

func TestSubmitReportsDispatchFailure(t *testing.T) {
	h := newHarness(t, false, "plant_001")
	h.source.set("plant_001", fixed(70))
	h.dispatcher.err = &core.CommandError{Device: "plant_001", Action: core.ActionPumpOn, StatusCode: 500, Err: core.ErrRejected}
	h.start(t)

	res, err := h.loop.Submit(context.Background(), "plant_001", core.ActionPumpOn)
	if !errors.Is(err, core.ErrRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
	if res.OK() || res.Outcome != "rejected" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := h.engine.State("plant_001").Phase; got != automation.PhaseCooldown {
		t.Fatalf("failed dispatch should enter cooldown, got %s", got)
	}
	rec, _ := h.store.Get("plant_001")
	if rec.LastWatered != nil {
		t.Fatalf("failed pump_on must not set last watered")
	}
}
