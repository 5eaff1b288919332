// Package poll drives the fleet: on every tick it fetches all live devices
// concurrently, updates and commits the store, then lets the automation engine
// decide on commands. Store and engine state are only mutated by the goroutine
// running Loop.Run.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joshp123/plantcare/internal/automation"
	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/fleet"
)

const (
	DefaultInterval        = 5 * time.Second
	DefaultDispatchTimeout = 10 * time.Second
)

// ReadingSource fetches the latest reading of one device.
type ReadingSource interface {
	FetchLatest(ctx context.Context, deviceID string) (core.Reading, error)
}

// Dispatcher sends one control action to one device.
type Dispatcher interface {
	Send(ctx context.Context, deviceID string, action core.Action) (core.Ack, error)
}

// Observer is notified on the loop goroutine. Implementations must return
// quickly and must not call back into the loop.
type Observer interface {
	ObserveReading(plantID string, r core.Reading)
	ObserveCommit(s fleet.Snapshot)
	ObserveCommand(r automation.Result)
}

// ObserverFuncs adapts optional callbacks to Observer.
type ObserverFuncs struct {
	Reading func(plantID string, r core.Reading)
	Commit  func(s fleet.Snapshot)
	Command func(r automation.Result)
}

func (f ObserverFuncs) ObserveReading(plantID string, r core.Reading) {
	if f.Reading != nil {
		f.Reading(plantID, r)
	}
}

func (f ObserverFuncs) ObserveCommit(s fleet.Snapshot) {
	if f.Commit != nil {
		f.Commit(s)
	}
}

func (f ObserverFuncs) ObserveCommand(r automation.Result) {
	if f.Command != nil {
		f.Command(r)
	}
}

type Config struct {
	Interval time.Duration
	// FetchTimeout bounds each device fetch and must be shorter than Interval.
	FetchTimeout    time.Duration
	DispatchTimeout time.Duration
	// MaxConcurrentFetches caps fetch fan-out per tick. Zero means unlimited.
	MaxConcurrentFetches int
	Logger               *slog.Logger
}

type requestKind int

const (
	requestCommand requestKind = iota
	requestTick
)

type request struct {
	kind    requestKind
	plantID string
	action  core.Action
	reply   chan reply
}

type reply struct {
	result   automation.Result
	snapshot fleet.Snapshot
	err      error
}

type completion struct {
	ticket automation.Ticket
	ack    core.Ack
	err    error
}

// Loop owns the poll schedule and every state transition of store and engine.
type Loop struct {
	cfg        Config
	log        *slog.Logger
	store      *fleet.Store
	engine     *automation.Engine
	source     ReadingSource
	dispatcher Dispatcher

	obsMu     sync.Mutex
	observers []Observer

	requests chan request
	results  chan completion
	done     chan struct{}
	started  atomic.Bool

	// owned by the Run goroutine
	ticks    uint64
	inFlight int
	waiters  map[string]chan reply
}

func NewLoop(cfg Config, store *fleet.Store, engine *automation.Engine, source ReadingSource, dispatcher Dispatcher) (*Loop, error) {
	if store == nil || engine == nil {
		return nil, fmt.Errorf("poll: store and engine are required")
	}
	if source == nil || dispatcher == nil {
		return nil, fmt.Errorf("poll: reading source and dispatcher are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = cfg.Interval * 4 / 5
	}
	if cfg.FetchTimeout >= cfg.Interval {
		return nil, fmt.Errorf("poll: fetch timeout %s must be shorter than interval %s", cfg.FetchTimeout, cfg.Interval)
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:        cfg,
		log:        logger.With("component", "poll"),
		store:      store,
		engine:     engine,
		source:     source,
		dispatcher: dispatcher,
		requests:   make(chan request),
		results:    make(chan completion),
		done:       make(chan struct{}),
		waiters:    make(map[string]chan reply),
	}, nil
}

// Subscribe registers an observer for readings, commits and command results.
func (l *Loop) Subscribe(o Observer) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.observers = append(l.observers, o)
}

// Run polls until ctx is cancelled. Before returning it waits for every
// in-flight dispatch and applies its result.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("poll: loop already running")
	}
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.log.Info("poll loop started", "interval", l.cfg.Interval, "fetch_timeout", l.cfg.FetchTimeout)
	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.drain()
			l.log.Info("poll loop stopped", "ticks", l.ticks)
			return nil
		case <-ticker.C:
			l.tick(ctx)
		case req := <-l.requests:
			l.handle(ctx, req)
		case c := <-l.results:
			l.complete(c)
		}
	}
}

// Tick runs one poll cycle on the loop goroutine and returns the snapshot it
// committed. Dispatches started by the cycle may still be in flight.
func (l *Loop) Tick(ctx context.Context) (fleet.Snapshot, error) {
	rep, err := l.call(ctx, request{kind: requestTick})
	if err != nil {
		return fleet.Snapshot{}, err
	}
	return rep.snapshot, nil
}

// Submit requests a manual command and waits for its result. It fails fast when
// the plant is unknown, has no device, or already has a command in flight.
func (l *Loop) Submit(ctx context.Context, plantID string, action core.Action) (automation.Result, error) {
	rep, err := l.call(ctx, request{kind: requestCommand, plantID: plantID, action: action})
	if err != nil {
		return automation.Result{}, err
	}
	if rep.err != nil {
		return rep.result, rep.err
	}
	return rep.result, rep.result.Err
}

func (l *Loop) call(ctx context.Context, req request) (reply, error) {
	req.reply = make(chan reply, 1)
	select {
	case l.requests <- req:
	case <-l.done:
		return reply{}, core.ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-l.done:
		// Run answers every waiter before closing done.
		select {
		case rep := <-req.reply:
			return rep, nil
		default:
			return reply{}, core.ErrStopped
		}
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (l *Loop) handle(ctx context.Context, req request) {
	switch req.kind {
	case requestTick:
		req.reply <- reply{snapshot: l.tick(ctx)}
	case requestCommand:
		rec, ok := l.store.Working(req.plantID)
		if !ok {
			req.reply <- reply{err: fmt.Errorf("%w: %s", core.ErrUnknownPlant, req.plantID)}
			return
		}
		if ctx.Err() != nil {
			req.reply <- reply{err: core.ErrStopped}
			return
		}
		ticket, err := l.engine.Begin(rec, req.action, automation.OriginManual)
		if err != nil {
			req.reply <- reply{err: err}
			return
		}
		l.waiters[ticket.ID] = req.reply
		l.dispatch(ticket)
	}
}

func (l *Loop) tick(ctx context.Context) fleet.Snapshot {
	start := time.Now()
	l.ticks++
	log := l.log.With("tick", l.ticks)

	live := l.store.Live()
	outcomes := l.fetchAll(live)

	for i, p := range live {
		out := outcomes[i]
		fetchResults.WithLabelValues(core.ErrorKind(out.err)).Inc()
		if out.err != nil {
			log.Warn("fetch failed", "plant", p.ID, "device", p.DeviceID, "err", out.err)
			if err := l.store.MarkDegraded(p.ID, out.err); err != nil {
				log.Error("mark degraded", "plant", p.ID, "err", err)
			}
			continue
		}
		if err := l.store.Upsert(p.ID, out.reading); err != nil {
			log.Error("upsert reading", "plant", p.ID, "err", err)
			continue
		}
		l.notify(func(o Observer) { o.ObserveReading(p.ID, out.reading) })
	}

	l.store.Recompute()
	snap := l.commit()

	for _, res := range l.engine.Expire() {
		log.Warn("command expired", "plant", res.Ticket.PlantID, "action", res.Ticket.Action, "ticket", res.Ticket.ID)
		l.finish(res)
	}

	if ctx.Err() == nil {
		for _, p := range live {
			rec, ok := l.store.Working(p.ID)
			if !ok {
				continue
			}
			action, ok := l.engine.Evaluate(rec)
			if !ok {
				continue
			}
			ticket, err := l.engine.Begin(rec, action, automation.OriginAutomatic)
			if err != nil {
				log.Debug("automation skipped", "plant", p.ID, "err", err)
				continue
			}
			log.Info("automatic command", "plant", p.ID, "device", p.DeviceID, "action", action, "moisture", rec.Reading.Moisture)
			l.dispatch(ticket)
		}
	}

	ticksTotal.Inc()
	tickDuration.Observe(time.Since(start).Seconds())
	lastTick.SetToCurrentTime()
	return snap
}

type fetchOutcome struct {
	reading core.Reading
	err     error
}

// fetchAll fetches every live plant concurrently and returns once all fetches
// finished or timed out. Fetches do not observe loop cancellation so a tick
// in progress at shutdown still completes within FetchTimeout.
func (l *Loop) fetchAll(live []core.PlantRecord) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(live))
	var g errgroup.Group
	if l.cfg.MaxConcurrentFetches > 0 {
		g.SetLimit(l.cfg.MaxConcurrentFetches)
	}
	for i, p := range live {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), l.cfg.FetchTimeout)
			defer cancel()
			reading, err := l.source.FetchLatest(ctx, p.DeviceID)
			if err == nil {
				err = core.ValidateReading(reading)
				if err != nil {
					err = &core.DataError{Device: p.DeviceID, Reason: err.Error(), Err: core.ErrMalformed}
				}
			}
			outcomes[i] = fetchOutcome{reading: reading, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (l *Loop) dispatch(t automation.Ticket) {
	l.inFlight++
	dispatchesTotal.WithLabelValues(string(t.Origin), string(t.Action)).Inc()
	inFlightGauge.Set(float64(l.inFlight))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.DispatchTimeout)
		defer cancel()
		ack, err := l.dispatcher.Send(ctx, t.DeviceID, t.Action)
		l.results <- completion{ticket: t, ack: ack, err: err}
	}()
}

func (l *Loop) complete(c completion) {
	l.inFlight--
	inFlightGauge.Set(float64(l.inFlight))

	var ack *core.Ack
	if c.err == nil {
		a := c.ack
		ack = &a
	}
	res, ok := l.engine.Complete(c.ticket, ack, c.err)
	if !ok {
		staleCompletions.Inc()
		l.log.Warn("completion for expired command", "plant", c.ticket.PlantID, "ticket", c.ticket.ID, "err", c.err)
		return
	}
	l.finish(res)
}

// finish applies a resolved command to the store and answers any waiter.
func (l *Loop) finish(res automation.Result) {
	t := res.Ticket
	if res.OK() {
		l.log.Info("command acknowledged", "plant", t.PlantID, "device", t.DeviceID, "action", t.Action, "origin", t.Origin)
		if t.Action.Waters() {
			if err := l.store.MarkWatered(t.PlantID, res.CompletedAt); err != nil {
				l.log.Error("mark watered", "plant", t.PlantID, "err", err)
			} else {
				l.store.Recompute()
				l.commit()
			}
		}
	} else {
		l.log.Warn("command failed", "plant", t.PlantID, "device", t.DeviceID, "action", t.Action, "origin", t.Origin, "err", res.Err)
	}

	l.notify(func(o Observer) { o.ObserveCommand(res) })
	if waiter, ok := l.waiters[t.ID]; ok {
		delete(l.waiters, t.ID)
		waiter <- reply{result: res}
	}
}

func (l *Loop) commit() fleet.Snapshot {
	snap := l.store.Commit()
	commitsTotal.Inc()
	l.notify(func(o Observer) { o.ObserveCommit(snap) })
	return snap
}

func (l *Loop) drain() {
	for l.inFlight > 0 {
		l.complete(<-l.results)
	}
	for id, waiter := range l.waiters {
		delete(l.waiters, id)
		waiter <- reply{err: core.ErrStopped}
	}
}

func (l *Loop) notify(fn func(Observer)) {
	l.obsMu.Lock()
	observers := append([]Observer(nil), l.observers...)
	l.obsMu.Unlock()
	for _, o := range observers {
		fn(o)
	}
}
