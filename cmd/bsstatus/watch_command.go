package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	appLog "bsstatus/internal/log"
	"bsstatus/internal/status"
	"bsstatus/internal/web"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var poll string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the finders on a schedule and log status changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if poll != "" {
				cfg.Poll = poll
			}
			finders, err := buildFinders(cfg)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runWatch(runCtx, cfg.Poll, newWatcher(finders))
		},
	}
	cmd.Flags().StringVar(&poll, "poll", "", "Cron schedule overriding the config poll value (e.g. \"@every 30s\")")
	return cmd
}

// runWatch polls once immediately, then on every tick of schedule until ctx
// is done. Overlapping ticks are skipped.
func runWatch(ctx context.Context, schedule string, w *watcher) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, func() { w.poll(ctx) }); err != nil {
		return fmt.Errorf("poll schedule %q: %w", schedule, err)
	}

	appLog.Info("watch starting", "poll", schedule, "finders", len(w.finders))
	w.poll(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	appLog.Info("watch stopped")
	return nil
}

// watcher remembers the last result per finder and logs transitions.
type watcher struct {
	finders []status.Finder

	mu   sync.Mutex
	last map[string]web.FinderResult
}

func newWatcher(finders []status.Finder) *watcher {
	return &watcher{
		finders: finders,
		last:    make(map[string]web.FinderResult, len(finders)),
	}
}

// poll resolves every finder and returns the results that differ from
// the previous poll.
func (w *watcher) poll(ctx context.Context) []web.FinderResult {
	results := web.Resolve(ctx, w.finders)

	w.mu.Lock()
	defer w.mu.Unlock()

	var changed []web.FinderResult
	for _, r := range results {
		prev, seen := w.last[r.Name]
		w.last[r.Name] = r
		if seen && prev.Status == r.Status {
			continue
		}
		changed = append(changed, r)
		if seen {
			appLog.Info("status changed", "finder", r.Name, "from", prev.Status, "to", r.Status)
		} else {
			appLog.Info("status", "finder", r.Name, "status", r.Status)
		}
	}
	return changed
}
