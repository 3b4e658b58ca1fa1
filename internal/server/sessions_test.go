package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// whoamiTool reports the session id the transport bound the call to.
const whoamiTool = "whoami"

type countingFactory struct {
	created atomic.Int64
}

func (f *countingFactory) build() (*mcpserver.MCPServer, error) {
	f.created.Add(1)
	s := mcpserver.NewMCPServer("test-server", "0.0.1", mcpserver.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool(whoamiTool, mcp.WithDescription("Returns the session id")),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			session := mcpserver.ClientSessionFromContext(ctx)
			if session == nil {
				return mcp.NewToolResultError("no session"), nil
			}
			return mcp.NewToolResultText(session.SessionID()), nil
		})
	return s, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t testing.TB, opts ...RegistryOption) (*SessionRegistry, *countingFactory) {
	t.Helper()
	f := &countingFactory{}
	opts = append([]RegistryOption{WithRegistryLogger(discardLogger())}, opts...)
	r, err := NewSessionRegistry(f.build, opts...)
	require.NoError(t, err)
	t.Cleanup(r.CloseAll)
	return r, f
}

func TestNewSessionRegistry_Defaults(t *testing.T) {
	r, _ := newTestRegistry(t)

	assert.Equal(t, DefaultSessionTTL, r.TTL())
	assert.Equal(t, TTLFromCreation, r.Policy())
	assert.Equal(t, 0, r.Len())
}

func TestNewSessionRegistry_RequiresFactory(t *testing.T) {
	_, err := NewSessionRegistry(nil)
	assert.Error(t, err)
}

func TestParseTTLPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    TTLPolicy
		wantErr bool
	}{
		{"", TTLFromCreation, false},
		{"creation", TTLFromCreation, false},
		{"idle", TTLFromLastAccess, false},
		{"sliding", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTTLPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveOrCreate_NewSession(t *testing.T) {
	clock := newFakeClock()
	r, f := newTestRegistry(t, WithClock(clock.Now))

	s, created, err := r.ResolveOrCreate("")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, s.ID)
	assert.NotNil(t, s.Server)
	assert.NotNil(t, s.Transport)
	assert.Equal(t, clock.Now(), s.CreatedAt)
	assert.True(t, clock.Now().Equal(s.LastAccess()), "last access %s, want %s", s.LastAccess(), clock.Now())
	assert.Equal(t, int64(1), f.created.Load())
	assert.Equal(t, 1, r.Len())
}

func TestSession_LastAccessIsUTC(t *testing.T) {
	local := time.FixedZone("UTC+9", 9*60*60)
	at := time.Date(2026, 1, 1, 21, 0, 0, 0, local)

	s := &Session{}
	s.touch(at)

	assert.Equal(t, at.UTC(), s.LastAccess())
	assert.True(t, at.Equal(s.LastAccess()))
}

func TestResolveOrCreate_ExistingSessionUnchanged(t *testing.T) {
	clock := newFakeClock()
	r, f := newTestRegistry(t, WithClock(clock.Now))

	first, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	again, created, err := r.ResolveOrCreate(first.ID)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Same(t, first, again)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
	assert.Equal(t, int64(1), f.created.Load())
}

func TestResolveOrCreate_IgnoresUnknownClientID(t *testing.T) {
	r, _ := newTestRegistry(t)

	s, created, err := r.ResolveOrCreate("client-chosen-id")
	require.NoError(t, err)

	assert.True(t, created)
	assert.NotEqual(t, "client-chosen-id", s.ID)
	_, ok := r.lookup("client-chosen-id")
	assert.False(t, ok)
}

func TestResolveOrCreate_IDCollision(t *testing.T) {
	r, _ := newTestRegistry(t, WithIDGenerator(func() string { return "fixed" }))

	_, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)

	_, _, err = r.ResolveOrCreate("")
	assert.Error(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestResolveOrCreate_FactoryError(t *testing.T) {
	r, err := NewSessionRegistry(func() (*mcpserver.MCPServer, error) {
		return nil, fmt.Errorf("boom")
	}, WithRegistryLogger(discardLogger()))
	require.NoError(t, err)

	_, _, err = r.ResolveOrCreate("")
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 0, r.Len())
}

func TestResolveOrCreate_DistinctIDsAndRouting(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := &countingFactory{}
		r, err := NewSessionRegistry(f.build, WithRegistryLogger(discardLogger()))
		if err != nil {
			t.Fatalf("NewSessionRegistry: %v", err)
		}
		defer r.CloseAll()

		n := rapid.IntRange(1, 40).Draw(t, "sessions")
		byID := make(map[string]*Session, n)
		for i := 0; i < n; i++ {
			s, created, err := r.ResolveOrCreate("")
			if err != nil || !created {
				t.Fatalf("ResolveOrCreate: created=%v err=%v", created, err)
			}
			if _, dup := byID[s.ID]; dup {
				t.Fatalf("duplicate session id %q", s.ID)
			}
			byID[s.ID] = s
		}

		if r.Len() != n {
			t.Fatalf("Len() = %d, want %d", r.Len(), n)
		}

		for id, want := range byID {
			got, created, err := r.ResolveOrCreate(id)
			if err != nil || created || got != want {
				t.Fatalf("id %q routed to wrong session (created=%v err=%v)", id, created, err)
			}
			if got.Server == nil || got.Transport == nil {
				t.Fatalf("session %q missing server or transport", id)
			}
		}

		if int(f.created.Load()) != n {
			t.Fatalf("factory called %d times, want %d", f.created.Load(), n)
		}
	})
}

func TestResolveOrCreate_ServersNotShared(t *testing.T) {
	r, _ := newTestRegistry(t)

	a, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)
	b, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)

	assert.NotSame(t, a.Server, b.Server)
	assert.NotSame(t, a.Transport, b.Transport)
}

func TestResolveOrCreate_ConcurrentSameID(t *testing.T) {
	r, f := newTestRegistry(t)

	first, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)

	const workers = 64
	results := make([]*Session, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := r.ResolveOrCreate(first.ID)
			if err == nil {
				results[i] = s
			}
		}(i)
	}
	wg.Wait()

	for i, s := range results {
		assert.Same(t, first, s, "worker %d", i)
	}
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(1), f.created.Load())
}

func TestResolveOrCreate_ConcurrentHeaderless(t *testing.T) {
	r, _ := newTestRegistry(t)

	const workers = 32
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, _, err := r.ResolveOrCreate("")
			if err == nil {
				ids <- s.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers)
	assert.Equal(t, workers, r.Len())
}

func TestClose(t *testing.T) {
	r, _ := newTestRegistry(t)

	s, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)

	assert.True(t, r.Close(s.ID, "client"))
	assert.Equal(t, 0, r.Len())

	select {
	case <-s.done():
	default:
		t.Fatal("session context not cancelled on close")
	}

	// Closing again, or closing an id that never existed, is a no-op.
	assert.False(t, r.Close(s.ID, "client"))
	assert.False(t, r.Close("never-existed", "client"))

	// The closed id no longer routes to the old session.
	next, created, err := r.ResolveOrCreate(s.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, s.ID, next.ID)
}

func TestReap_CreationPolicy(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRegistry(t, WithClock(clock.Now), WithSessionTTL(30*time.Minute))

	old, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	fresh, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)

	// Activity does not extend a session under the creation policy.
	old.touch(clock.Now())

	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, r.Reap(clock.Now()))

	_, ok := r.lookup(old.ID)
	assert.False(t, ok, "expired session still registered")
	_, ok = r.lookup(fresh.ID)
	assert.True(t, ok, "fresh session was reaped")

	select {
	case <-old.done():
	default:
		t.Fatal("reaped session context not cancelled")
	}
}

func TestReap_ExactlyAtTTLIsKept(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRegistry(t, WithClock(clock.Now), WithSessionTTL(time.Minute))

	_, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	assert.Equal(t, 0, r.Reap(clock.Now()))
	assert.Equal(t, 1, r.Reap(clock.Now().Add(time.Nanosecond)))
}

func TestReap_IdlePolicy(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRegistry(t,
		WithClock(clock.Now),
		WithSessionTTL(30*time.Minute),
		WithTTLPolicy(TTLFromLastAccess))

	active, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)
	idle, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)

	clock.Advance(25 * time.Minute)
	active.touch(clock.Now())

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, r.Reap(clock.Now()))

	_, ok := r.lookup(active.ID)
	assert.True(t, ok, "recently used session was reaped")
	_, ok = r.lookup(idle.ID)
	assert.False(t, ok, "idle session survived")

	clock.Advance(25 * time.Minute)
	assert.Equal(t, 1, r.Reap(clock.Now()))
	assert.Equal(t, 0, r.Len())
}

func TestStartReaper(t *testing.T) {
	r, _ := newTestRegistry(t,
		WithSessionTTL(time.Millisecond),
		WithReapInterval(5*time.Millisecond))

	_, _, err := r.ResolveOrCreate("")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartReaper(ctx)
	r.StartReaper(ctx)

	require.Eventually(t, func() bool { return r.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStartReaper_StopsOnContextCancel(t *testing.T) {
	r, _ := newTestRegistry(t, WithReapInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	r.StartReaper(ctx)
	cancel()

	select {
	case <-r.reaperDone:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not exit after context cancel")
	}
}

func TestStop_WithoutStart(t *testing.T) {
	r, _ := newTestRegistry(t)

	done := make(chan struct{})
	go func() {
		r.Stop()
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without a running reaper")
	}
}

func TestCloseAll(t *testing.T) {
	r, _ := newTestRegistry(t)

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, _, err := r.ResolveOrCreate("")
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	r.CloseAll()
	assert.Equal(t, 0, r.Len())
	for _, s := range sessions {
		select {
		case <-s.done():
		default:
			t.Fatalf("session %s not cancelled", s.ID)
		}
	}

	_, _, err := r.ResolveOrCreate("")
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestFixedSessionIDManager(t *testing.T) {
	m := fixedSessionIDManager{id: "abc"}

	assert.Equal(t, "abc", m.Generate())

	terminated, err := m.Validate("abc")
	assert.NoError(t, err)
	assert.False(t, terminated)

	terminated, err = m.Validate("")
	assert.NoError(t, err)
	assert.False(t, terminated)

	terminated, err = m.Validate("other")
	assert.NoError(t, err)
	assert.True(t, terminated)

	notAllowed, err := m.Terminate("abc")
	assert.NoError(t, err)
	assert.False(t, notAllowed)
}
