package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbot/internal/config"
	"slotbot/internal/slot"
	"slotbot/internal/transport"
)

const (
	testBase   = "https://supplies.test"
	testConfig = `
telegram:
  token: "bot-token"
  owner_user_ids: [900, 900]
logging:
  level: error
upstream:
  base_url: "https://supplies.test"
  credentials: ["cred-a"]
  backoff_base: 1ms
  backoff_max: 2ms
  min_request_interval: 1ms
poller:
  interval: 1h
notifier:
  retry_base: 1ms
  retry_max_delay: 2ms
storage:
  driver: memory
schedules:
  timezone: UTC
  expire_windows: 1h
`
	offersBody     = `[{"date":"2026-11-02T00:00:00Z","coefficient":0,"warehouseID":507,"warehouseName":"Коледино КБТ","boxTypeName":"Короба","boxTypeID":2}]`
	warehousesBody = `[{"ID":507,"name":"Коледино"},{"ID":117986,"name":"Казань"}]`
)

type sent struct {
	to   transport.ChatTarget
	text string
	opts transport.SendOptions
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (s *recordingSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var o transport.SendOptions
	if opt != nil {
		o = *opt
	}
	s.msgs = append(s.msgs, sent{to: to, text: text, opts: o})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(s.msgs)}, nil
}

func (s *recordingSender) to(chatID int64) []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sent
	for _, m := range s.msgs {
		if m.to.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func newTestApp(t *testing.T) (*App, *recordingSender, *httpmock.MockTransport) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slotbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodGet, testBase+"/api/v1/acceptance/coefficients",
		httpmock.NewStringResponder(http.StatusOK, offersBody))
	mt.RegisterResponder(http.MethodGet, testBase+"/api/v1/warehouses",
		httpmock.NewStringResponder(http.StatusOK, warehousesBody))

	snd := &recordingSender{}
	a, err := New(path,
		WithSender(snd),
		WithUpstreamHTTPClient(&http.Client{Transport: mt}),
		WithEnv(func(string) string { return "" }),
	)
	require.NoError(t, err)
	return a, snd, mt
}

func TestApp_CycleDeliversAndRetiresOneShot(t *testing.T) {
	a, snd, _ := newTestApp(t)
	t.Cleanup(func() {
		_ = a.store.Close()
		_ = a.logs.Close()
	})
	ctx := context.Background()

	sub, err := a.Store().CreateSubscription(ctx, slot.Params{
		SubscriberID: 42,
		LocationIDs:  []int64{507},
		Categories:   []slot.Category{slot.CategoryBoxes},
		Threshold:    1,
		Mode:         slot.ModeOneShot,
	})
	require.NoError(t, err)

	require.NoError(t, a.refreshLocations(ctx))
	require.NoError(t, a.loop.RunOnce(ctx))

	msgs := snd.to(42)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "Коледино")
	assert.Contains(t, msgs[0].text, "02.11.2026")
	require.Len(t, msgs[0].opts.Buttons, 1)

	active, err := a.store.ListActive(ctx)
	require.NoError(t, err)
	for _, s := range active {
		assert.NotEqual(t, sub.ID, s.ID)
	}

	require.NoError(t, a.loop.RunOnce(ctx))
	assert.Len(t, snd.to(42), 1, "a retired one-shot is not notified again")

	r, ok := a.loop.LastReport()
	require.True(t, ok)
	assert.Zero(t, r.Matches)
}

func TestApp_StartStop(t *testing.T) {
	a, snd, mt := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool { return len(snd.to(900)) == 1 }, 2*time.Second, 10*time.Millisecond,
		"owners get one startup notice")
	require.Eventually(t, func() bool {
		return mt.GetCallCountInfo()["GET "+testBase+"/api/v1/warehouses"] >= 1
	}, 2*time.Second, 10*time.Millisecond, "location catalog warms up on start")

	ok, detail := a.health()
	assert.True(t, ok)
	assert.NotNil(t, detail)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSIGTERM))

	select {
	case <-a.Done():
	default:
		t.Fatal("Done must be closed after Stop")
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	a, _, _ := newTestApp(t)
	t.Cleanup(func() {
		_ = a.store.Close()
		_ = a.logs.Close()
	})

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Upstream.Credentials = []string{"cred-a", "cred-b"}
	newCfg.Dedup.TTL = "2h"
	newCfg.Poller.Interval = "30s"
	newCfg.Poller.MaxConcurrentGroups = 5

	a.applyConfig(oldCfg, &newCfg)

	assert.Equal(t, 2, a.pool.Len())
	assert.Equal(t, 2*time.Hour, a.gate.TTL())

	var pollSpec string
	for _, s := range a.sched.Snapshot().Schedules {
		if s.Name == jobPoll {
			pollSpec = s.Spec
		}
	}
	assert.Equal(t, "@every 30s", pollSpec)
}

func TestApp_NewRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slotbot.yaml")
	body := strings.Replace(testConfig, `credentials: ["cred-a"]`, `credentials: []`, 1)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := New(path, WithSender(&recordingSender{}), WithEnv(func(string) string { return "" }))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestParseGroupLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		chat   int64
		thread int
		ok     bool
	}{
		{"-1001234", -1001234, 0, true},
		{" -1001234:77 ", -1001234, 77, true},
		{"", 0, 0, false},
		{"abc", 0, 0, false},
		{"-100:x", 0, 0, false},
		{"0", 0, 0, false},
	}
	for _, tt := range tests {
		chat, thread, ok := parseGroupLog(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.chat, chat, tt.in)
		assert.Equal(t, tt.thread, thread, tt.in)
	}
}

func TestOwnerTargets(t *testing.T) {
	t.Parallel()

	got := ownerTargets([]int64{5, 0, 5, 7})
	assert.Equal(t, []transport.ChatTarget{{ChatID: 5}, {ChatID: 7}}, got)
}
