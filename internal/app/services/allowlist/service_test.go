package allowlist

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/shipyard/internal/httputil"
	"github.com/R3E-Network/shipyard/pkg/testutil"
)

type fakeSource struct {
	mu      sync.Mutex
	entries []string
	err     error
	loads   int
}

func (f *fakeSource) Load(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.entries...), nil
}

func (f *fakeSource) set(entries []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
	f.err = err
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func newService(source Source) (*Service, *testutil.Clock) {
	clock := testutil.NewClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	return New(source, DefaultRefreshInterval, nil).WithClock(clock.Now), clock
}

func TestIsAllowedLoadsLazilyAndCaches(t *testing.T) {
	alice, bob := testutil.Address(1), testutil.Address(2)
	src := &fakeSource{entries: []string{string(alice)}}
	svc, clock := newService(src)

	assert.True(t, svc.IsAllowed(context.Background(), alice))
	assert.False(t, svc.IsAllowed(context.Background(), bob))
	assert.Equal(t, 1, src.count())

	src.set([]string{string(alice), string(bob)}, nil)
	clock.Advance(DefaultRefreshInterval - time.Second)
	assert.False(t, svc.IsAllowed(context.Background(), bob), "cache is still fresh")
	assert.Equal(t, 1, src.count())

	clock.Advance(time.Second)
	assert.True(t, svc.IsAllowed(context.Background(), bob))
	assert.Equal(t, 2, src.count())
}

func TestRefreshFailureKeepsLastGoodList(t *testing.T) {
	alice := testutil.Address(1)
	src := &fakeSource{entries: []string{string(alice)}}
	svc, clock := newService(src)

	require.NoError(t, svc.Refresh(context.Background()))

	src.set(nil, errors.New("upstream down"))
	clock.Advance(DefaultRefreshInterval)
	assert.True(t, svc.IsAllowed(context.Background(), alice))

	st := svc.Status()
	assert.True(t, st.Loaded)
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, "upstream down", st.LastError)
}

func TestNoListDeniesEveryone(t *testing.T) {
	src := &fakeSource{err: errors.New("upstream down")}
	svc, _ := newService(src)

	assert.False(t, svc.IsAllowed(context.Background(), testutil.Address(1)))
	assert.False(t, svc.Status().Loaded)

	// The failed attempt is not retried on every lookup.
	assert.False(t, svc.IsAllowed(context.Background(), testutil.Address(1)))
	assert.Equal(t, 1, src.count())
}

func TestRefreshNormalizesAndSkipsMalformedEntries(t *testing.T) {
	alice := testutil.Address(0xab)
	src := &fakeSource{entries: []string{"0X" + strings.ToUpper(string(alice)[2:]), alice.NeoAddress(), "not-an-address", ""}}
	svc, _ := newService(src)

	require.NoError(t, svc.Refresh(context.Background()))
	assert.True(t, svc.IsAllowed(context.Background(), alice))
	assert.Equal(t, 1, svc.Status().Entries)
}

func TestConcurrentLookupsShareOneLoad(t *testing.T) {
	src := &fakeSource{entries: []string{string(testutil.Address(1))}}
	svc, _ := newService(src)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.IsAllowed(context.Background(), testutil.Address(1))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, src.count())
}

func TestHTTPSource(t *testing.T) {
	alice, bob := testutil.Address(1), testutil.Address(2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/array":
			_, _ = w.Write([]byte(`["` + string(alice) + `", 42]`))
		case "/object":
			_, _ = w.Write([]byte(`{"addresses":["` + string(bob) + `"],"updated":"today"}`))
		case "/scalar":
			_, _ = w.Write([]byte(`"nope"`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := httputil.NewServiceClient(httputil.ServiceClientConfig{BaseURL: server.URL, MaxRetries: -1})

	got, err := NewHTTPSource(client, "/array").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{string(alice)}, got)

	got, err = NewHTTPSource(client, "/object").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{string(bob)}, got)

	_, err = NewHTTPSource(client, "/scalar").Load(context.Background())
	assert.Error(t, err)

	_, err = NewHTTPSource(client, "/broken").Load(context.Background())
	var statusErr *httputil.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

type fakeRedis struct {
	members map[string][]string
	err     error
}

func (f *fakeRedis) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(f.members[key], f.err)
}

func TestRedisSource(t *testing.T) {
	alice := testutil.Address(1)
	client := &fakeRedis{members: map[string][]string{"shipyard:approvers": {string(alice)}}}

	got, err := NewRedisSource(client, "shipyard:approvers").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{string(alice)}, got)

	client.err = errors.New("dial tcp: connection refused")
	_, err = NewRedisSource(client, "shipyard:approvers").Load(context.Background())
	assert.ErrorContains(t, err, "shipyard:approvers")
}

func TestRefresherLifecycle(t *testing.T) {
	src := &fakeSource{entries: []string{string(testutil.Address(1))}}
	svc := New(src, time.Hour, nil)
	r := NewRefresher(svc, nil)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()), "start is idempotent")
	assert.Equal(t, 1, src.count())
	assert.True(t, svc.Status().Loaded)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	require.NoError(t, r.Stop(ctx))
}
