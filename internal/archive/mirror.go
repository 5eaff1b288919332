// Package archive mirrors committed fleet snapshots to object storage.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/plantcare/internal/automation"
	"github.com/joshp123/plantcare/internal/classify"
	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/fleet"
)

const (
	LatestKey     = "fleet/latest.json"
	uploadTimeout = 15 * time.Second
)

var uploads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plantcare_archive_uploads_total",
		Help: "Snapshot uploads to object storage",
	},
	[]string{"kind", "result"},
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{uploads}
}

// Document is the archived form of a snapshot.
type Document struct {
	Snapshot fleet.Snapshot   `json:"snapshot"`
	Summary  classify.Summary `json:"summary"`
}

// Mirror uploads the newest committed snapshot. While an upload is running,
// newer commits replace the queued one instead of piling up.
type Mirror struct {
	blobs BlobStore
	every time.Duration
	log   *slog.Logger

	mu           sync.Mutex
	uploading    bool
	queued       *fleet.Snapshot
	lastArchived time.Time
	wg           sync.WaitGroup
}

// NewMirror writes every snapshot to LatestKey and, at most once per every,
// a dated copy. every <= 0 disables dated copies.
func NewMirror(blobs BlobStore, every time.Duration, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{blobs: blobs, every: every, log: logger.With("component", "archive")}
}

func (m *Mirror) ObserveReading(string, core.Reading) {}

func (m *Mirror) ObserveCommand(automation.Result) {}

func (m *Mirror) ObserveCommit(s fleet.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploading {
		m.queued = &s
		return
	}
	m.uploading = true
	m.wg.Add(1)
	go m.run(s)
}

func (m *Mirror) run(s fleet.Snapshot) {
	defer m.wg.Done()
	for {
		m.upload(s)

		m.mu.Lock()
		if m.queued == nil {
			m.uploading = false
			m.mu.Unlock()
			return
		}
		s = *m.queued
		m.queued = nil
		m.mu.Unlock()
	}
}

func (m *Mirror) upload(s fleet.Snapshot) {
	data, err := json.Marshal(Document{Snapshot: s, Summary: classify.Summarize(s.Plants)})
	if err != nil {
		m.log.Error("encode snapshot", "version", s.Version, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	m.save(ctx, "latest", LatestKey, data)

	m.mu.Lock()
	due := m.every > 0 && (m.lastArchived.IsZero() || s.TakenAt.Sub(m.lastArchived) >= m.every)
	if due {
		m.lastArchived = s.TakenAt
	}
	m.mu.Unlock()
	if due {
		m.save(ctx, "dated", DatedKey(s.TakenAt), data)
	}
}

func (m *Mirror) save(ctx context.Context, kind, key string, data []byte) {
	if err := m.blobs.Save(ctx, key, data); err != nil {
		uploads.WithLabelValues(kind, "error").Inc()
		m.log.Warn("upload snapshot", "key", key, "err", err)
		return
	}
	uploads.WithLabelValues(kind, "ok").Inc()
}

// Wait blocks until the running upload, if any, has finished.
func (m *Mirror) Wait() {
	m.wg.Wait()
}

// Latest loads the most recently mirrored document.
func (m *Mirror) Latest(ctx context.Context) (Document, error) {
	data, err := m.blobs.Load(ctx, LatestKey)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode archived snapshot: %w", err)
	}
	return doc, nil
}

// DatedKey is the object key of a dated snapshot copy.
func DatedKey(t time.Time) string {
	return "fleet/" + t.UTC().Format("2006/01/02/150405") + ".json"
}
