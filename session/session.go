// Package session runs Haystack requests against one server: it holds the
// auth token, encodes requests with the negotiated codec, recovers from
// token expiry and drives watch subscriptions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/c360studio/haystack/auth"
	"github.com/c360studio/haystack/codec"
	"github.com/c360studio/haystack/grid"
	"github.com/c360studio/haystack/transport"
)

// Defaults applied by Start and Request.
const (
	DefaultURI          = "http://localhost:3000/api"
	DefaultOp           = "about"
	DefaultMethod       = http.MethodPost
	DefaultContent      = codec.ContentZinc
	DefaultVersion      = "3.0"
	DefaultLease        = time.Minute
	DefaultPollInterval = 5 * time.Second
)

// Haystack operations with special handling.
const (
	OpClose      = "close"
	OpWatchSub   = "watchSub"
	OpWatchUnsub = "watchUnsub"
	OpWatchPoll  = "watchPoll"
)

const recoverKey = "recover"

// Config describes the server and the watch behaviour of a session.
type Config struct {
	URI      string
	Username string
	Password string
	// Token is a bearer token obtained earlier. When set, Start does not
	// authenticate.
	Token   string
	Version string
	Content string
	Accept  string

	// Lease is requested when a watch is opened.
	Lease time.Duration
	// PollInterval is the delay between the end of one poll and the next.
	PollInterval time.Duration
	// WatchName is the watch display name. Defaults to a generated one.
	WatchName string
}

// Request is one Haystack operation. Zero fields take session defaults.
type Request struct {
	Op      string
	Method  string
	Content string
	Accept  string
	Version string
	Grid    *grid.Grid
	// Raw skips decoding the response body.
	Raw bool
}

// Response is a decoded server answer.
type Response struct {
	StatusCode  int
	ContentType string
	Body        string
	// Grid is nil for raw requests.
	Grid *grid.Grid
	// Err is the server-reported error message of an err grid.
	Err string
}

// UpdateFunc receives every successful subscribe or poll response.
type UpdateFunc func(ctx context.Context, g *grid.Grid)

// Stats is a snapshot of session counters.
type Stats struct {
	Polls   int64
	Updates int64
	Errors  int64
	Watched int
	WatchID string
}

type tokenState struct {
	set       bool
	anonymous bool
	value     string
}

func (t tokenState) held() bool { return t.set && !t.anonymous }

// Session talks to one Haystack server. It is safe for concurrent use.
type Session struct {
	creds     auth.Credentials
	version   string
	content   string
	accept    string
	transport transport.Transport
	auth      *auth.Authenticator
	logger    *slog.Logger
	metrics   *Metrics
	flight    singleflight.Group

	mu           sync.Mutex
	uri          string
	open         bool
	token        tokenState
	watchID      string
	watchName    string
	lease        time.Duration
	pollInterval time.Duration
	watches      map[string]*WatchRecord
	order        []string
	columns      []string
	shapeGen     uint64
	polledGen    uint64
	onUpdate     UpdateFunc
	pollCancel   context.CancelFunc
	pollDone     chan struct{}

	polls   atomic.Int64
	updates atomic.Int64
	errors  atomic.Int64
}

// Option configures a Session.
type Option func(*Session)

// WithTransport sets the transport. Defaults to an HTTP client.
func WithTransport(t transport.Transport) Option {
	return func(s *Session) {
		s.transport = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records counters in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithAuthenticator replaces the authenticator built on the transport.
func WithAuthenticator(a *auth.Authenticator) Option {
	return func(s *Session) {
		s.auth = a
	}
}

// WithUpdateFunc sets the session-level watch callback.
func WithUpdateFunc(fn UpdateFunc) Option {
	return func(s *Session) {
		s.onUpdate = fn
	}
}

// New creates a closed session.
func New(cfg Config, opts ...Option) (*Session, error) {
	s := &Session{
		uri:          strings.TrimSuffix(cfg.URI, "/"),
		creds:        auth.Credentials{Username: cfg.Username, Password: cfg.Password},
		version:      cfg.Version,
		content:      cfg.Content,
		accept:       cfg.Accept,
		watchName:    cfg.WatchName,
		lease:        cfg.Lease,
		pollInterval: cfg.PollInterval,
		logger:       slog.Default(),
		watches:      make(map[string]*WatchRecord),
	}
	if cfg.Token != "" {
		s.token = tokenState{set: true, value: cfg.Token}
	}
	if s.version == "" {
		s.version = DefaultVersion
	}
	if s.content == "" {
		s.content = DefaultContent
	}
	if s.accept == "" {
		s.accept = s.content
	}
	if s.lease <= 0 {
		s.lease = DefaultLease
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.watchName == "" {
		s.watchName = "haystack-" + uuid.New().String()[:8]
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.transport == nil {
		client, err := transport.New(transport.WithLogger(s.logger))
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
		s.transport = client
	}
	if s.auth == nil {
		s.auth = auth.New(s.transport, auth.WithLogger(s.logger))
	}
	return s, nil
}

// URI returns the server base uri.
func (s *Session) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

// Token returns the bearer token, or "" for anonymous sessions.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.value
}

// IsOpen reports whether Start succeeded and End has not run.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// SetUpdateFunc replaces the session-level watch callback.
func (s *Session) SetUpdateFunc(fn UpdateFunc) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Stats returns the current counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	watched, watchID := len(s.watches), s.watchID
	s.mu.Unlock()
	return Stats{
		Polls:   s.polls.Load(),
		Updates: s.updates.Load(),
		Errors:  s.errors.Load(),
		Watched: watched,
		WatchID: watchID,
	}
}

// Start resets the counters, authenticates unless a token is already
// held, and opens the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.uri == "" {
		s.uri = DefaultURI
	}
	uri := s.uri
	s.mu.Unlock()

	s.polls.Store(0)
	s.updates.Store(0)
	s.errors.Store(0)

	if err := s.login(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.open = true
	anonymous := s.token.anonymous
	s.mu.Unlock()

	s.logger.Info("Haystack session started", "uri", uri, "anonymous", anonymous)
	return nil
}

// login obtains a token if none is set.
func (s *Session) login(ctx context.Context) error {
	s.mu.Lock()
	if s.token.set {
		s.mu.Unlock()
		return nil
	}
	uri := s.uri
	s.mu.Unlock()

	token, ok, err := s.auth.Token(ctx, uri, s.creds)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = tokenState{set: true, anonymous: !ok, value: token}
	s.mu.Unlock()
	return nil
}

// Request sends one operation. A 403 on an authenticated session triggers
// re-authentication: the request is retried once, except for watch
// operations, which return ErrNoop. Non-200 statuses are transport errors;
// err grids are reported in Response.Err.
func (s *Session) Request(ctx context.Context, req Request) (*Response, error) {
	if !s.IsOpen() {
		return nil, NewSessionError("session is closed")
	}
	return s.do(ctx, req, true)
}

func (s *Session) do(ctx context.Context, req Request, recoverable bool) (*Response, error) {
	res, err := s.send(ctx, req)
	if err == nil || !recoverable || transport.StatusCode(err) != http.StatusForbidden {
		return res, err
	}

	// The token is unset while another caller recovers; only anonymous
	// sessions skip recovery.
	s.mu.Lock()
	anonymous := s.token.anonymous
	s.mu.Unlock()
	if anonymous || req.Op == OpClose {
		return res, err
	}

	if rerr := s.recover(ctx); rerr != nil {
		return nil, fmt.Errorf("re-authenticate after %s: %w", err, rerr)
	}
	if !s.IsOpen() {
		return nil, NewSessionError("session closed during re-authentication")
	}
	switch req.Op {
	case OpWatchSub, OpWatchUnsub, OpWatchPoll:
		return nil, ErrNoop
	}
	return s.send(ctx, req)
}

func (s *Session) send(ctx context.Context, req Request) (*Response, error) {
	if req.Op == "" {
		req.Op = DefaultOp
	}
	if req.Method == "" {
		req.Method = DefaultMethod
	}
	req.Method = strings.ToUpper(req.Method)
	if req.Content == "" {
		req.Content = s.content
	}
	if req.Accept == "" {
		req.Accept = req.Content
		if req.Content == s.content {
			req.Accept = s.accept
		}
	}
	if req.Version == "" {
		req.Version = s.version
	}
	if req.Grid == nil {
		req.Grid = grid.New()
	}

	s.mu.Lock()
	url := s.uri + "/" + req.Op + "/"
	token := s.token
	s.mu.Unlock()

	var body string
	switch req.Method {
	case http.MethodGet:
		url += req.Grid.Query()
	default:
		c, err := codec.ForContent(req.Content)
		if err != nil {
			return nil, err
		}
		body, err = c.Encode(req.Grid, req.Version)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", req.Op, err)
		}
	}

	header := http.Header{}
	header.Set("Content-Type", req.Content)
	header.Set("Accept", req.Accept)
	if token.held() {
		header.Set("Authorization", "BEARER authToken="+token.value)
	}

	res, err := s.transport.Send(ctx, req.Method, url, header, body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, transport.NewStatusError(res.StatusCode, res.Status)
	}

	out := &Response{
		StatusCode:  res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        res.Body,
	}
	if req.Raw {
		return out, nil
	}

	contentType := out.ContentType
	if contentType == "" {
		contentType = req.Accept
	}
	c, err := codec.ForContent(contentType)
	if err != nil {
		return nil, err
	}
	g, msg, err := c.Decode(res.Body)
	if err != nil {
		return nil, err
	}
	out.Grid = g
	out.Err = msg
	return out, nil
}

// recover re-authenticates and re-opens the watch. Concurrent callers
// share one recovery. A session closed meanwhile keeps the new token for
// End to close but does not re-open the watch.
func (s *Session) recover(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	_, err, _ := s.flight.Do(recoverKey, func() (any, error) {
		if !s.IsOpen() {
			return nil, NewSessionError("session is closed")
		}
		s.logger.Info("Token rejected, re-authenticating", "uri", s.URI())

		s.stopPolling()
		s.mu.Lock()
		s.token = tokenState{}
		s.watchID = ""
		ids := make([]string, len(s.order))
		copy(ids, s.order)
		s.mu.Unlock()

		if err := s.login(ctx); err != nil {
			return nil, err
		}
		if len(ids) > 0 && s.IsOpen() {
			s.subscribe(ctx, ids, false)
		}
		return nil, nil
	})
	return err
}

// End marks the session closed, waits for a running re-authentication,
// stops polling, closes the watch and sends close when a token is held.
// It is safe to call more than once.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	wasOpen := s.open
	s.open = false
	s.mu.Unlock()

	select {
	case <-s.flight.DoChan(recoverKey, func() (any, error) { return nil, nil }):
	case <-ctx.Done():
	}

	if done := s.stopPolling(); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	watchID := s.watchID
	token := s.token
	s.mu.Unlock()

	var errs []error
	if watchID != "" {
		if err := s.unsubscribe(ctx, nil, false); err != nil {
			errs = append(errs, err)
		}
	}
	if token.held() {
		if _, err := s.do(ctx, Request{Op: OpClose}, false); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}

	s.mu.Lock()
	s.token = tokenState{}
	s.mu.Unlock()

	if wasOpen {
		stats := s.Stats()
		s.logger.Info("Haystack session ended",
			"uri", s.URI(),
			"polls", stats.Polls,
			"updates", stats.Updates,
			"errors", stats.Errors)
	}
	return errors.Join(errs...)
}
