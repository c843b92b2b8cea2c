package config

import (
	"reflect"
	"slices"
	"strings"

	logx "slotbot/pkg/logx"
)

// Change summarizes the difference between two configs for logging.
// Attrs never carry secrets: tokens and credentials are reported only as counts or flags.
type Change struct {
	Sections []string
	Attrs    []logx.Field
	// RestartRequired lists keys that changed but only take effect after a restart.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || o.APIURL != n.APIURL ||
		!slices.Equal(o.OwnerUserIDs, n.OwnerUserIDs) || strings.TrimSpace(o.GroupLog) != strings.TrimSpace(n.GroupLog) {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Attrs = append(ch.Attrs,
			logx.Int("telegram.owner_count", len(n.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(n.GroupLog) != ""),
		)
		if o.Token != n.Token {
			ch.RestartRequired = append(ch.RestartRequired, "telegram.token")
		}
		if o.APIURL != n.APIURL {
			ch.RestartRequired = append(ch.RestartRequired, "telegram.api_url")
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	ou, nu := oldCfg.Upstream, newCfg.Upstream
	credsChanged := !slices.Equal(oldCfg.Credentials(), newCfg.Credentials())
	ou.Credentials, nu.Credentials = nil, nil
	pacingChanged := !reflect.DeepEqual(ou, nu)
	if credsChanged || pacingChanged {
		ch.Sections = append(ch.Sections, "upstream")
		ch.Attrs = append(ch.Attrs,
			logx.Int("upstream.credential_count", len(newCfg.Credentials())),
			logx.Bool("upstream.credentials_changed", credsChanged),
		)
		if pacingChanged {
			ch.RestartRequired = append(ch.RestartRequired, "upstream")
		}
	}

	if oldCfg.Poller != newCfg.Poller {
		ch.Sections = append(ch.Sections, "poller")
		ch.Attrs = append(ch.Attrs,
			logx.String("poller.interval", newCfg.Poller.Interval),
			logx.Int("poller.max_concurrent_groups", newCfg.Poller.MaxConcurrentGroups),
			logx.String("poller.cycle_timeout", newCfg.Poller.CycleTimeout),
		)
	}

	if oldCfg.Dedup != newCfg.Dedup {
		ch.Sections = append(ch.Sections, "dedup")
		ch.Attrs = append(ch.Attrs, logx.String("dedup.ttl", newCfg.Dedup.TTL))
		if oldCfg.Dedup.CleanupInterval != newCfg.Dedup.CleanupInterval {
			ch.RestartRequired = append(ch.RestartRequired, "dedup.cleanup_interval")
		}
	}

	if oldCfg.Notifier != newCfg.Notifier {
		ch.Sections = append(ch.Sections, "notifier")
		ch.Attrs = append(ch.Attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		ch.Sections = append(ch.Sections, "storage")
		ch.Attrs = append(ch.Attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		ch.RestartRequired = append(ch.RestartRequired, "storage")
	}

	if oldCfg.Ops != newCfg.Ops {
		ch.Sections = append(ch.Sections, "ops")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
		ch.RestartRequired = append(ch.RestartRequired, "ops")
	}

	if oldCfg.Schedules != newCfg.Schedules {
		ch.Sections = append(ch.Sections, "schedules")
		ch.Attrs = append(ch.Attrs,
			logx.String("schedules.expire_windows", newCfg.Schedules.ExpireWindows),
			logx.String("schedules.refresh_locations", newCfg.Schedules.RefreshLocations),
			logx.String("schedules.timezone", newCfg.Schedules.Timezone),
		)
	}

	if len(ch.Sections) > 0 {
		ch.Attrs = append(ch.Attrs, logx.String("sections", strings.Join(ch.Sections, ",")))
	}
	return ch
}
