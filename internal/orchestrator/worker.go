package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run starts one worker per active topic and reconciles the worker set as
// topics are created or archived. It returns when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.cfg.ReconcileInterval()
	if interval <= 0 {
		interval = time.Minute
	}

	g, gctx := errgroup.WithContext(ctx)
	workers := make(map[int64]context.CancelFunc)

	reconcile := func() {
		topics, err := o.store.ListActiveTopics(gctx)
		if err != nil {
			slog.Error("Failed to list active topics", "error", err)
			return
		}

		active := make(map[int64]bool, len(topics))
		for _, t := range topics {
			active[t.ID] = true
			if _, running := workers[t.ID]; running {
				continue
			}
			wctx, cancel := context.WithCancel(gctx)
			workers[t.ID] = cancel
			id, name := t.ID, t.Name
			g.Go(func() error {
				o.worker(wctx, id, name, interval)
				return nil
			})
		}
		for id, cancel := range workers {
			if !active[id] {
				cancel()
				delete(workers, id)
				slog.Info("Topic worker stopped", "topic_id", id)
			}
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("Orchestrator started", "reconcile_interval", interval.String())
		reconcile()
		for {
			select {
			case <-gctx.Done():
				for _, cancel := range workers {
					cancel()
				}
				slog.Info("Orchestrator stopped")
				return nil
			case <-ticker.C:
				reconcile()
			}
		}
	})

	return g.Wait()
}

func (o *Orchestrator) worker(ctx context.Context, topicID int64, name string, interval time.Duration) {
	slog.Info("Topic worker started", "topic", name, "topic_id", topicID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.safeCycle(ctx, topicID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.safeCycle(ctx, topicID)
		}
	}
}

func (o *Orchestrator) safeCycle(ctx context.Context, topicID int64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in topic cycle", "topic_id", topicID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	if _, err := o.Cycle(ctx, topicID); err != nil && ctx.Err() == nil {
		slog.Error("Topic cycle failed", "topic_id", topicID, "error", err)
	}
}
