package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kevinhojae/savewise-mcp-server/internal/instrumentation"
	"github.com/kevinhojae/savewise-mcp-server/internal/logging"
)

const (
	// DefaultSessionTTL is how long a session may live before the reaper removes it.
	DefaultSessionTTL = 30 * time.Minute

	// DefaultReapInterval is the period between reaper sweeps.
	DefaultReapInterval = 5 * time.Minute
)

// TTLPolicy selects which timestamp the reaper measures a session's age from.
type TTLPolicy string

const (
	// TTLFromCreation expires a session a fixed time after it was created,
	// regardless of activity.
	TTLFromCreation TTLPolicy = "creation"

	// TTLFromLastAccess expires a session after it has been idle for the TTL.
	TTLFromLastAccess TTLPolicy = "idle"
)

// ParseTTLPolicy converts a configuration string into a TTLPolicy.
func ParseTTLPolicy(s string) (TTLPolicy, error) {
	switch TTLPolicy(s) {
	case "", TTLFromCreation:
		return TTLFromCreation, nil
	case TTLFromLastAccess:
		return TTLFromLastAccess, nil
	default:
		return "", fmt.Errorf("invalid session TTL policy %q (want %q or %q)", s, TTLFromCreation, TTLFromLastAccess)
	}
}

// ErrRegistryClosed is returned when a session is requested after CloseAll.
var ErrRegistryClosed = errors.New("session registry is closed")

// ServerFactory builds a fresh protocol server for a new session.
type ServerFactory func() (*mcpserver.MCPServer, error)

// Session binds one session id to its own protocol server and transport.
type Session struct {
	ID        string
	Server    *mcpserver.MCPServer
	Transport *mcpserver.StreamableHTTPServer
	CreatedAt time.Time

	lastAccess atomic.Int64
	ctx        context.Context
	cancel     context.CancelFunc
}

// LastAccess returns the time, in UTC, the session last had a request
// dispatched to it.
func (s *Session) LastAccess() time.Time {
	return time.Unix(0, s.lastAccess.Load()).UTC()
}

// done is closed once the session has been removed from its registry.
func (s *Session) done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) touch(now time.Time) {
	s.lastAccess.Store(now.UnixNano())
}

// SessionRegistry maps session ids to sessions and routes MCP requests to
// the transport that owns each one. A single mutex guards the map, so the
// existence check and insert in ResolveOrCreate cannot interleave. The
// protocol server and transport of a new session are also built under that
// mutex, which serializes session creation.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	factory       ServerFactory
	transportOpts []mcpserver.StreamableHTTPOption
	ttl           time.Duration
	reapInterval  time.Duration
	policy        TTLPolicy

	now   func() time.Time
	newID func() string

	metrics *instrumentation.Metrics
	logger  *slog.Logger

	reaperOnce    sync.Once
	reaperStarted atomic.Bool
	stopOnce      sync.Once
	stop          chan struct{}
	reaperDone    chan struct{}
}

// RegistryOption configures a SessionRegistry.
type RegistryOption func(*SessionRegistry)

// WithSessionTTL sets the maximum session age.
func WithSessionTTL(ttl time.Duration) RegistryOption {
	return func(r *SessionRegistry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithReapInterval sets how often the reaper sweeps the registry.
func WithReapInterval(interval time.Duration) RegistryOption {
	return func(r *SessionRegistry) {
		if interval > 0 {
			r.reapInterval = interval
		}
	}
}

// WithTTLPolicy sets which timestamp session age is measured from.
func WithTTLPolicy(policy TTLPolicy) RegistryOption {
	return func(r *SessionRegistry) {
		if policy != "" {
			r.policy = policy
		}
	}
}

// WithTransportOptions appends options applied to every session transport.
func WithTransportOptions(opts ...mcpserver.StreamableHTTPOption) RegistryOption {
	return func(r *SessionRegistry) {
		r.transportOpts = append(r.transportOpts, opts...)
	}
}

// WithRegistryMetrics records session lifecycle metrics.
func WithRegistryMetrics(m *instrumentation.Metrics) RegistryOption {
	return func(r *SessionRegistry) {
		r.metrics = m
	}
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *SessionRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the registry clock. Used by tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *SessionRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides session id generation. Used by tests.
func WithIDGenerator(gen func() string) RegistryOption {
	return func(r *SessionRegistry) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// NewSessionRegistry creates an empty registry that builds protocol servers
// with factory.
func NewSessionRegistry(factory ServerFactory, opts ...RegistryOption) (*SessionRegistry, error) {
	if factory == nil {
		return nil, errors.New("session registry requires a server factory")
	}

	r := &SessionRegistry{
		sessions:     make(map[string]*Session),
		factory:      factory,
		ttl:          DefaultSessionTTL,
		reapInterval: DefaultReapInterval,
		policy:       TTLFromCreation,
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       slog.Default(),
		stop:         make(chan struct{}),
		reaperDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "session_registry")

	return r, nil
}

// TTL returns the configured session TTL.
func (r *SessionRegistry) TTL() time.Duration { return r.ttl }

// Policy returns the configured TTL policy.
func (r *SessionRegistry) Policy() TTLPolicy { return r.policy }

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// lookup returns the session for id without creating one.
func (r *SessionRegistry) lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ResolveOrCreate returns the session registered under id. When id is empty
// or unknown a new session is created under a freshly generated id; the
// client-supplied id is never adopted.
func (r *SessionRegistry) ResolveOrCreate(id string) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrRegistryClosed
	}

	if id != "" {
		if s, ok := r.sessions[id]; ok {
			return s, false, nil
		}
	}

	newID := r.newID()
	if _, taken := r.sessions[newID]; taken {
		return nil, false, fmt.Errorf("generated session id collides with a live session")
	}

	srv, err := r.factory()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create protocol server: %w", err)
	}

	opts := make([]mcpserver.StreamableHTTPOption, 0, len(r.transportOpts)+2)
	opts = append(opts, r.transportOpts...)
	opts = append(opts,
		mcpserver.WithSessionIdManager(fixedSessionIDManager{id: newID}),
		mcpserver.WithLogger(logging.NewSlogAdapter(r.logger)),
	)

	now := r.now()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        newID,
		Server:    srv,
		Transport: mcpserver.NewStreamableHTTPServer(srv, opts...),
		CreatedAt: now,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.touch(now)
	r.sessions[newID] = s

	r.metrics.RecordSessionCreated(context.Background())
	r.logger.Info("session created",
		logging.SessionID(newID),
		slog.Int(logging.KeyCount, len(r.sessions)))

	return s, true, nil
}

// Close removes the session registered under id. Closing an unknown id is
// a no-op and reports false.
func (r *SessionRegistry) Close(id, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.release(s, reason)
	return true
}

// Reap removes every session older than the TTL as of now and returns how
// many were removed.
func (r *SessionRegistry) Reap(now time.Time) int {
	var expired []*Session

	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(r.ageBase(s)) > r.ttl {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.release(s, instrumentation.SessionClosedByReaper)
	}
	if len(expired) > 0 {
		r.logger.Info("reaped expired sessions",
			slog.Int(logging.KeyCount, len(expired)),
			slog.String("policy", string(r.policy)))
	}
	return len(expired)
}

func (r *SessionRegistry) ageBase(s *Session) time.Time {
	if r.policy == TTLFromLastAccess {
		return s.LastAccess()
	}
	return s.CreatedAt
}

// release tears down a session that has already been removed from the map.
func (r *SessionRegistry) release(s *Session, reason string) {
	s.cancel()
	s.Server.UnregisterSession(context.Background(), s.ID)

	age := r.now().Sub(s.CreatedAt)
	r.metrics.RecordSessionClosed(context.Background(), reason, age)
	r.logger.Info("session closed",
		logging.SessionID(s.ID),
		slog.String("reason", reason),
		slog.Duration("age", age))
}

// StartReaper launches the background sweep. It stops when ctx is done or
// Stop is called. Calling it more than once has no effect.
func (r *SessionRegistry) StartReaper(ctx context.Context) {
	r.reaperOnce.Do(func() {
		r.reaperStarted.Store(true)
		go r.reapLoop(ctx)
	})
}

func (r *SessionRegistry) reapLoop(ctx context.Context) {
	defer close(r.reaperDone)

	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reap(r.now())
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		}
	}
}

// Stop halts the reaper and waits for it to exit if it was started.
func (r *SessionRegistry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})

	if r.reaperStarted.Load() {
		<-r.reaperDone
	}
}

// CloseAll stops the reaper, closes every session and rejects new ones.
func (r *SessionRegistry) CloseAll() {
	r.Stop()

	r.mu.Lock()
	r.closed = true
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		r.release(s, instrumentation.SessionClosedByShutdown)
	}
}

// ServeHTTP routes MCP requests to their session transport.
func (r *SessionRegistry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost, http.MethodGet:
		r.dispatch(w, req)
	case http.MethodDelete:
		r.handleDelete(w, req)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	}
}

func (r *SessionRegistry) handleDelete(w http.ResponseWriter, req *http.Request) {
	id := req.Header.Get(mcpserver.HeaderKeySessionID)
	if id != "" {
		r.Close(id, instrumentation.SessionClosedByClient)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "session closed"})
}

func (r *SessionRegistry) dispatch(w http.ResponseWriter, req *http.Request) {
	rw := newResponseWriter(w)
	logger := r.logger.With(slog.String(logging.KeyMethod, req.Method))

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		logger.Error("panic while dispatching MCP request", slog.Any("panic", rec))
		if !rw.Written() {
			writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}
	}()

	sess, created, err := r.ResolveOrCreate(req.Header.Get(mcpserver.HeaderKeySessionID))
	if err != nil {
		logger.Error("failed to resolve session", logging.Err(err))
		status := http.StatusInternalServerError
		if errors.Is(err, ErrRegistryClosed) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(rw, status, map[string]string{"error": "Internal server error"})
		return
	}
	sess.touch(r.now())

	if created {
		req = req.Clone(req.Context())
		req.Header.Set(mcpserver.HeaderKeySessionID, sess.ID)
	}
	rw.Header().Set(mcpserver.HeaderKeySessionID, sess.ID)

	if req.Method == http.MethodGet {
		// Streams end when their session is closed or reaped.
		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()
		stop := context.AfterFunc(sess.ctx, cancel)
		defer stop()
		req = req.WithContext(ctx)
	}

	sess.Transport.ServeHTTP(rw, req)
}

// fixedSessionIDManager pins a transport to the single id its registry
// assigned, so the initialize handshake reports that id to the client.
type fixedSessionIDManager struct {
	id string
}

func (m fixedSessionIDManager) Generate() string { return m.id }

func (m fixedSessionIDManager) Validate(sessionID string) (bool, error) {
	if sessionID == "" || sessionID == m.id {
		return false, nil
	}
	return true, nil
}

func (m fixedSessionIDManager) Terminate(string) (bool, error) { return false, nil }
