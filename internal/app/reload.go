package app

import (
	"context"
	"strings"

	"slotbot/internal/config"
	"slotbot/internal/task/scheduler"
	logx "slotbot/pkg/logx"
)

// reloadLoop applies published configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the latest config matters.
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					newCfg = newer
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig hot-applies the reloadable parts of newCfg. Restart-only keys are logged.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.SummarizeChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	rt, err := newCfg.Runtime()
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect",
			logx.String("keys", strings.Join(ch.RestartRequired, ",")))
	}

	setLogTarget(a.logs, newCfg)
	a.logs.Apply(rt.Logging)

	if creds := newCfg.Credentials(); len(creds) > 0 {
		a.pool.Replace(creds)
	}
	a.gate.SetTTL(rt.DedupTTL)
	a.dispatcher.Apply(rt.Notifier)
	a.loop.Apply(rt.Poller)
	a.sched.Apply(scheduler.Config{Timezone: rt.Timezone})
	if err := a.registerJobs(rt); err != nil {
		a.log.Warn("schedule update failed", logx.Err(err))
	}

	a.log.Info("config reloaded", ch.Attrs...)
}
