package upstream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbot/internal/slot"
	logx "slotbot/pkg/logx"
)

const testBase = "https://supplies.test"

func setupHTTPMock(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

type scripted struct {
	mu     sync.Mutex
	codes  []int
	body   string
	auth   []string
	params []string
	legacy []string
}

// responder replays codes in order and repeats the last one.
func (s *scripted) responder(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = append(s.auth, req.Header.Get("Authorization"))
	s.params = append(s.params, req.URL.Query().Get("locationIDs"))
	s.legacy = append(s.legacy, req.URL.Query().Get("warehouseIDs"))
	code := s.codes[0]
	if len(s.codes) > 1 {
		s.codes = s.codes[1:]
	}
	if code == http.StatusOK {
		return httpmock.NewStringResponse(code, s.body), nil
	}
	return httpmock.NewStringResponse(code, `{"title":"error"}`), nil
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return nil
}

func newTestClient(t *testing.T, creds ...string) (*Client, *sleepRecorder) {
	t.Helper()
	c := New(Config{
		BaseURL:              testBase,
		RetriesPerCredential: 2,
		BackoffBase:          5 * time.Second,
		BackoffMax:           time.Minute,
		RequestTimeout:       time.Second,
	}, NewCredentialPool(creds), logx.Nop())
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

const snapshotBody = `[
 {"date":"2026-03-10T00:00:00Z","coefficient":1,"warehouseID":507,"warehouseName":"Коледино","boxTypeName":"Короба","boxTypeID":2},
 {"date":"2026-03-11T00:00:00Z","coefficient":null,"warehouseID":507,"warehouseName":"Коледино","boxTypeName":"Монопаллеты","boxTypeID":5},
 {"date":"2026-03-12T00:00:00Z","coefficient":0,"warehouseID":117986,"warehouseName":"Казань","boxTypeName":"Суперсейф"},
 {"date":"not a date","coefficient":0,"warehouseID":1,"boxTypeID":2}
]`

func TestFetchSnapshot_Decodes(t *testing.T) {
	setupHTTPMock(t)
	s := &scripted{codes: []int{http.StatusOK}, body: snapshotBody}
	httpmock.RegisterResponder(http.MethodGet, testBase+coefficientsPath, s.responder)

	c, _ := newTestClient(t, "token-a")
	offers, err := c.FetchSnapshot(context.Background(), []int64{507, 117986})
	require.NoError(t, err)
	require.Len(t, offers, 3)

	assert.Equal(t, []string{"Bearer token-a"}, s.auth)
	assert.Equal(t, []string{"507,117986"}, s.params)
	assert.Equal(t, []string{"507,117986"}, s.legacy, "supplies API parameter name is sent too")

	assert.Equal(t, slot.Offer{
		LocationID:   507,
		Category:     slot.CategoryBoxes,
		Coefficient:  1,
		Date:         time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		LocationName: "Коледино",
	}, offers[0])
	assert.Equal(t, -1.0, offers[1].Coefficient)
	assert.False(t, offers[1].Available())
	assert.Equal(t, slot.CategorySuperSafe, offers[2].Category)
}

func TestFetchSnapshot_GenericRecordShape(t *testing.T) {
	setupHTTPMock(t)
	s := &scripted{codes: []int{http.StatusOK}, body: `[
 {"locationID":507,"categoryCode":"boxes","coefficient":1,"date":"2026-03-10T00:00:00Z"},
 {"locationID":507,"categoryCode":5,"coefficient":0,"date":"2026-03-11"},
 {"locationID":507,"categoryCode":"pallets_xl","coefficient":0,"date":"2026-03-11"}
]`}
	httpmock.RegisterResponder(http.MethodGet, testBase+coefficientsPath, s.responder)

	c, _ := newTestClient(t, "token-a")
	offers, err := c.FetchSnapshot(context.Background(), []int64{507})
	require.NoError(t, err)
	assert.Equal(t, []string{"507"}, s.params)

	require.Len(t, offers, 2)
	assert.Equal(t, slot.Offer{
		LocationID:  507,
		Category:    slot.CategoryBoxes,
		Coefficient: 1,
		Date:        time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	}, offers[0])
	assert.Equal(t, slot.CategoryMonoPallets, offers[1].Category)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), offers[1].Date)
}

func TestFetchSnapshot_RateLimitedThenOK(t *testing.T) {
	setupHTTPMock(t)
	s := &scripted{codes: []int{429, 429, 200}, body: `[]`}
	httpmock.RegisterResponder(http.MethodGet, testBase+coefficientsPath, s.responder)

	c, rec := newTestClient(t, "token-a", "token-b")
	offers, err := c.FetchSnapshot(context.Background(), []int64{507})
	require.NoError(t, err)
	assert.Empty(t, offers)

	assert.Equal(t, []string{"Bearer token-a", "Bearer token-b", "Bearer token-a"}, s.auth)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rec.waits)
	assert.Equal(t, "token-a", c.Pool().Current())
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestFetchSnapshot_RateLimitBound(t *testing.T) {
	setupHTTPMock(t)
	s := &scripted{codes: []int{429}}
	httpmock.RegisterResponder(http.MethodGet, testBase+coefficientsPath, s.responder)

	c, rec := newTestClient(t, "token-a", "token-b", "token-c")
	_, err := c.FetchSnapshot(context.Background(), []int64{507})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	// 3 credentials x 2 retries each; no sleep after the final attempt.
	assert.Equal(t, 6, httpmock.GetTotalCallCount())
	assert.Len(t, rec.waits, 5)
	assert.Equal(t, time.Minute, rec.waits[4])
}

func TestFetchSnapshot_AllCredentialsUnauthorized(t *testing.T) {
	setupHTTPMock(t)
	s := &scripted{codes: []int{401}}
	httpmock.RegisterResponder(http.MethodGet, testBase+coefficientsPath, s.responder)

	c, rec := newTestClient(t, "token-a", "token-b")
	_, err := c.FetchSnapshot(context.Background(), []int64{507})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, []string{"Bearer token-a", "Bearer token-b"}, s.auth)
	assert.Empty(t, rec.waits)
}

func TestFetchSnapshot_UnauthorizedThenOK(t *testing.T) {
	setupHTTPMock(t)
	s := &scripted{codes: []int{401, 200}, body: `[]`}
	httpmock.RegisterResponder(http.MethodGet, testBase+coefficientsPath, s.responder)

	c, _ := newTestClient(t, "token-a", "token-b")
	_, err := c.FetchSnapshot(context.Background(), []int64{507})
	require.NoError(t, err)
	assert.Equal(t, "token-b", c.Pool().Current())
}

func TestFetchSnapshot_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, "boom")},
		{"bad request", httpmock.NewStringResponder(http.StatusBadRequest, "bad")},
		{"bad json", httpmock.NewStringResponder(http.StatusOK, "{not json")},
		{"transport", httpmock.NewErrorResponder(errors.New("connection reset"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupHTTPMock(t)
			httpmock.RegisterResponder(http.MethodGet, testBase+coefficientsPath, tt.responder)

			c, rec := newTestClient(t, "token-a", "token-b")
			_, err := c.FetchSnapshot(context.Background(), []int64{507})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpstream)
			assert.Equal(t, 1, httpmock.GetTotalCallCount())
			assert.Equal(t, "token-a", c.Pool().Current(), "no rotation on non-retryable failures")
			assert.Empty(t, rec.waits)
		})
	}
}

func TestFetchSnapshot_TimeoutThenOK(t *testing.T) {
	setupHTTPMock(t)
	var calls atomic.Int32
	var auth []string
	var mu sync.Mutex
	httpmock.RegisterResponder(http.MethodGet, testBase+coefficientsPath, func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		auth = append(auth, req.Header.Get("Authorization"))
		mu.Unlock()
		if calls.Add(1) == 1 {
			<-req.Context().Done()
			return nil, req.Context().Err()
		}
		return httpmock.NewStringResponse(http.StatusOK, snapshotBody), nil
	})

	c, rec := newTestClient(t, "token-a", "token-b")
	c.cfg.RequestTimeout = 50 * time.Millisecond

	offers, err := c.FetchSnapshot(context.Background(), []int64{507})
	require.NoError(t, err)
	assert.Len(t, offers, 3)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"Bearer token-a", "Bearer token-a"}, auth, "timeouts keep the credential")
	assert.Equal(t, []time.Duration{5 * time.Second}, rec.waits)
}

func TestFetchSnapshot_TimeoutBound(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodGet, testBase+coefficientsPath, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	c, rec := newTestClient(t, "token-a")
	c.cfg.RequestTimeout = 20 * time.Millisecond

	_, err := c.FetchSnapshot(context.Background(), []int64{507})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, httpmock.GetTotalCallCount(), "1 credential x 2 retries")
	assert.Len(t, rec.waits, 1)
}

func TestFetchSnapshot_CallerCancelIsNotRetried(t *testing.T) {
	setupHTTPMock(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	httpmock.RegisterResponder(http.MethodGet, testBase+coefficientsPath, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	c, rec := newTestClient(t, "token-a", "token-b")
	_, err := c.FetchSnapshot(ctx, []int64{507})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.Empty(t, rec.waits)
}

func TestFetchSnapshot_NoCredentials(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.FetchSnapshot(context.Background(), []int64{507})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestFetchLocations(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodGet, testBase+warehousesPath,
		httpmock.NewStringResponder(http.StatusOK, `[{"ID":507,"name":"Коледино"},{"ID":117986,"name":" Казань "},{"ID":0,"name":"skip"}]`))

	c, _ := newTestClient(t, "token-a")
	got, err := c.FetchLocations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{507: "Коледино", 117986: "Казань"}, got)
}

func TestCredentialPool(t *testing.T) {
	p := NewCredentialPool([]string{" a ", "", "b", "a", "c"})
	require.Equal(t, 3, p.Len())
	assert.Equal(t, "a", p.Current())
	assert.Equal(t, "b", p.Rotate())
	assert.Equal(t, "c", p.Rotate())
	assert.Equal(t, "a", p.Rotate())

	p.Replace([]string{"x"})
	assert.Equal(t, "x", p.Current())
	assert.Equal(t, "x", p.Rotate())

	empty := NewCredentialPool(nil)
	assert.Equal(t, "", empty.Current())
	assert.Equal(t, "", empty.Rotate())
}

func TestCredentialPool_ConcurrentRotate(t *testing.T) {
	p := NewCredentialPool([]string{"a", "b", "c", "d"})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Rotate()
				_ = p.Current()
			}
		}()
	}
	wg.Wait()
	// 800 rotations over 4 credentials lands back on the first.
	assert.Equal(t, "a", p.Current())
}
