package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Use Runtime() to get parsed, defaulted values.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Upstream  UpstreamConfig  `json:"upstream"`
	Poller    PollerConfig    `json:"poller"`
	Dedup     DedupConfig     `json:"dedup"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   StorageConfig   `json:"storage"`
	Ops       OpsConfig       `json:"ops"`
	Schedules SchedulesConfig `json:"schedules"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids" validate:"dive,ne=0"`
	// GroupLog is the operator chat id for the log sink, optionally "chat_id:thread_id".
	GroupLog string `json:"group_log"`
	// APIURL overrides the Bot API endpoint (self-hosted bot API servers).
	APIURL string `json:"api_url,omitempty" validate:"omitempty,url"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level" validate:"omitempty,oneof=debug info warn warning error"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// UpstreamConfig controls the supplies API client.
//
// Defaults:
//   - base_url: "https://supplies-api.wildberries.ru"
//   - retries_per_credential: 2
//   - backoff_base: "5s", backoff_max: "1m"
//   - request_timeout: "10s"
//   - min_request_interval: "1.1s"
type UpstreamConfig struct {
	BaseURL              string   `json:"base_url,omitempty" validate:"omitempty,url"`
	Credentials          []string `json:"credentials"`
	RetriesPerCredential int      `json:"retries_per_credential,omitempty" validate:"gte=0,lte=10"`
	BackoffBase          string   `json:"backoff_base,omitempty"`
	BackoffMax           string   `json:"backoff_max,omitempty"`
	RequestTimeout       string   `json:"request_timeout,omitempty"`
	MinRequestInterval   string   `json:"min_request_interval,omitempty"`
}

// PollerConfig controls the poll loop. Interval and max_concurrent_groups are hot-reloadable.
type PollerConfig struct {
	Interval            string `json:"interval,omitempty"` // default "10s"
	MaxConcurrentGroups int    `json:"max_concurrent_groups,omitempty" validate:"gte=0,lte=64"`
	CycleTimeout        string `json:"cycle_timeout,omitempty"` // default "2m"
}

type DedupConfig struct {
	TTL string `json:"ttl,omitempty"` // default "24h"
	// CleanupInterval is the memory driver's expired-marker sweep period.
	CleanupInterval string `json:"cleanup_interval,omitempty"`
}

type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
	RetryMax      int    `json:"retry_max,omitempty" validate:"gte=0,lte=10"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	BookingURL    string `json:"booking_url,omitempty" validate:"omitempty,url"`
	BookingText   string `json:"booking_text,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/slotbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=sqlite sqlite3 memory"`
	Path        string `json:"path" validate:"required_if=Driver sqlite,required_if=Driver sqlite3"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// OpsConfig controls the operator HTTP server (/healthz, /metrics, /debug/pprof/).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// SchedulesConfig holds the maintenance job schedules (cron, "@every", duration or HH:MM).
type SchedulesConfig struct {
	ExpireWindows    string `json:"expire_windows,omitempty"`    // default "1m"
	RefreshLocations string `json:"refresh_locations,omitempty"` // default "6h"
	Timezone         string `json:"timezone,omitempty"`          // default "Europe/Moscow"
}
