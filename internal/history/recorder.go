package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/joshp123/plantcare/internal/automation"
	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/fleet"
)

const writeTimeout = 2 * time.Second

// Recorder writes poll loop events to the store. Failures are logged and never
// reach the loop.
type Recorder struct {
	store *Store
	log   *slog.Logger
}

func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, log: logger.With("component", "history")}
}

func (r *Recorder) ObserveReading(plantID string, reading core.Reading) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.RecordReading(ctx, plantID, reading); err != nil {
		r.log.Error("record reading", "plant", plantID, "err", err)
	}
}

func (r *Recorder) ObserveCommit(fleet.Snapshot) {}

func (r *Recorder) ObserveCommand(res automation.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.RecordCommand(ctx, res); err != nil {
		r.log.Error("record command", "plant", res.Ticket.PlantID, "ticket", res.Ticket.ID, "err", err)
	}
}

// Restore loads the last reading of every plant into the fleet store (as
// degraded) and the last command time into the engine.
func Restore(ctx context.Context, store *Store, plants *fleet.Store, engine *automation.Engine) (int, error) {
	readings, err := store.LatestReadings(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for plantID, reading := range readings {
		rec, ok := plants.Working(plantID)
		if !ok || !rec.Live() {
			continue
		}
		if err := plants.Restore(plantID, reading); err != nil {
			return restored, err
		}
		restored++
	}

	times, err := store.LastCommandTimes(ctx)
	if err != nil {
		return restored, err
	}
	for plantID, at := range times {
		engine.Restore(plantID, at)
	}

	plants.Recompute()
	plants.Commit()
	return restored, nil
}

// RunRetention prunes readings older than retention every interval until ctx
// is done. The newest reading of each plant is always kept.
func RunRetention(ctx context.Context, store *Store, retention, every time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "history")
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		removed, err := store.PruneReadings(ctx, time.Now().Add(-retention))
		if err != nil && ctx.Err() == nil {
			log.Error("prune readings", "err", err)
		} else if removed > 0 {
			log.Info("pruned readings", "removed", removed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
