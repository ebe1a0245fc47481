package indexer

import (
	"context"
	"os"
	"time"
)

// Compact merges every segment of a collection's current generation into
// one, purging tombstoned and shadowed versions. It returns the generation
// ID now current; when there was nothing to merge that is the unchanged ID.
func (m *Manager) Compact(ctx context.Context, name string) (uint64, error) {
	c, err := m.open(ctx, name, false)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	before := c.stats()
	gen, published, err := c.compact(ctx)
	if err != nil {
		c.logger.Error("compaction failed", "error", err)
		if m.metrics != nil {
			m.metrics.CompactionsTotal.WithLabelValues(name, "failed").Inc()
		}
		return 0, err
	}
	if !published {
		return gen.ID(), nil
	}
	if m.metrics != nil {
		m.metrics.CompactionsTotal.WithLabelValues(name, "ok").Inc()
	}
	m.observe(c)
	c.logger.Info("compaction complete",
		"generation", gen.ID(),
		"segments_before", before.Segments,
		"segments_after", gen.SegmentCount(),
		"live_docs", gen.DocCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	m.notify(CommitInfo{
		Collection:  name,
		Generation:  gen.ID(),
		Docs:        gen.DocCount(),
		Segments:    gen.SegmentCount(),
		Compaction:  true,
		CommittedAt: gen.manifest.CommittedAt,
	})
	return gen.ID(), nil
}

// StartMaintenance runs the background loops: every index.commitInterval
// each open collection with pending mutations is committed, and every
// index.mergeInterval each collection holding more than
// index.maxSegmentsBeforeMerge segments is compacted. A non-positive
// interval disables its loop. The loops stop on Shutdown or when ctx ends.
// Calling it twice has no effect.
func (m *Manager) StartMaintenance(ctx context.Context) {
	if m.cfg.CommitInterval <= 0 && m.cfg.MergeInterval <= 0 {
		return
	}
	m.loopOnce.Do(func() {
		m.mu.Lock()
		m.loopDone = make(chan struct{})
		m.mu.Unlock()
		go m.maintenanceLoop(ctx)
	})
}

func (m *Manager) maintenanceLoop(ctx context.Context) {
	defer close(m.loopDone)
	var commits, merges <-chan time.Time
	if m.cfg.CommitInterval > 0 {
		t := time.NewTicker(m.cfg.CommitInterval)
		defer t.Stop()
		commits = t.C
	}
	if m.cfg.MergeInterval > 0 {
		t := time.NewTicker(m.cfg.MergeInterval)
		defer t.Stop()
		merges = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopLoop:
			return
		case <-commits:
			m.commitDue(ctx)
		case <-merges:
			m.compactDue(ctx)
		}
	}
}

func (m *Manager) commitDue(ctx context.Context) {
	if err := m.CommitAll(ctx); err != nil {
		m.logger.Warn("scheduled commit failed", "error", err)
	}
}

func (m *Manager) compactDue(ctx context.Context) {
	for _, name := range m.Collections() {
		s, err := m.Stats(name)
		if err != nil || s.Segments <= m.cfg.MaxSegmentsBeforeMerge {
			continue
		}
		if _, err := m.Compact(ctx, name); err != nil {
			m.logger.Warn("scheduled compaction failed", "collection", name, "error", err)
		}
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
