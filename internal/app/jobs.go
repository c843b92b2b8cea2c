package app

import (
	"context"
	"time"

	"slotbot/internal/config"
	"slotbot/internal/eventbus"
	logx "slotbot/pkg/logx"
)

const (
	jobPoll             = "poll"
	jobExpireWindows    = "expire_windows"
	jobRefreshLocations = "refresh_locations"

	expireWindowsTimeout    = 30 * time.Second
	refreshLocationsTimeout = 2 * time.Minute
)

// registerJobs upserts every schedule from rt. It is called at startup and on reload.
func (a *App) registerJobs(rt config.Runtime) error {
	// The poll cycle carries its own timeout (poller.cycle_timeout).
	if _, err := a.sched.AddInterval(jobPoll, rt.PollInterval, 0, a.loop.RunOnce); err != nil {
		return err
	}
	if _, err := a.sched.AddSchedule(jobExpireWindows, rt.ExpireWindows, expireWindowsTimeout, a.expireWindows); err != nil {
		return err
	}
	if _, err := a.sched.AddSchedule(jobRefreshLocations, rt.RefreshLocations, refreshLocationsTimeout, a.refreshLocations); err != nil {
		return err
	}
	return nil
}

// expireWindows deactivates subscriptions whose date window has closed.
func (a *App) expireWindows(ctx context.Context) error {
	n, err := a.store.ExpireWindows(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Info("subscriptions expired", logx.Int("count", n))
		eventbus.Emit(a.bus, eventbus.TypeWindowsExpired, n)
	}
	return nil
}

// refreshLocations reloads location display names through the same credential pool.
func (a *App) refreshLocations(ctx context.Context) error {
	names, err := a.client.FetchLocations(ctx)
	if err != nil {
		return err
	}
	if err := a.store.PutLocations(ctx, names); err != nil {
		return err
	}
	a.log.Info("location catalog refreshed", logx.Int("locations", len(names)))
	eventbus.Emit(a.bus, eventbus.TypeCatalogRefresh, len(names))
	return nil
}
