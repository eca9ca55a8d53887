package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c360studio/haystack/grid"
)

// RecordFunc receives the rows of a watch response that belong to one
// subscribed id.
type RecordFunc func(rec *WatchRecord, g *grid.Grid, row int)

// WatchRecord is one subscribed entity.
type WatchRecord struct {
	ID string

	fn      RecordFunc
	updates atomic.Int64
}

// Updates returns how many rows have been dispatched to this record.
func (r *WatchRecord) Updates() int64 { return r.updates.Load() }

// normalizeID drops a leading @ so "@a" and "a" name the same entity.
func normalizeID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "@")
}

// recordID extracts the entity id from an id cell, which may carry a
// trailing display name.
func recordID(cell string) string {
	id, _, _ := strings.Cut(cell, " ")
	return strings.TrimPrefix(id, "@")
}

// Subscribe adds ids to the watch, opening the watch on first use. Failures,
// including a closed session, are counted and logged, never returned.
func (s *Session) Subscribe(ctx context.Context, ids ...string) {
	s.SubscribeFunc(ctx, nil, ids...)
}

// SubscribeFunc is Subscribe with a per-id callback. A nil fn keeps any
// callback already registered for the id.
func (s *Session) SubscribeFunc(ctx context.Context, fn RecordFunc, ids ...string) {
	if len(ids) == 0 {
		return
	}

	keys := make([]string, 0, len(ids))
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		s.fail(OpWatchSub, NewSessionError("session is closed"))
		return
	}
	for _, id := range ids {
		key := normalizeID(id)
		if key == "" {
			continue
		}
		rec, ok := s.watches[key]
		if !ok {
			rec = &WatchRecord{ID: key}
			s.watches[key] = rec
			s.order = append(s.order, key)
			s.shapeGen++
		}
		if fn != nil {
			rec.fn = fn
		}
		keys = append(keys, key)
	}
	s.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	s.subscribe(ctx, keys, true)
}

func (s *Session) subscribe(ctx context.Context, ids []string, recoverable bool) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		s.fail(OpWatchSub, NewSessionError("session is closed"))
		return
	}
	watchID := s.watchID
	lease := s.lease
	watchName := s.watchName
	s.mu.Unlock()

	req := grid.New()
	if watchID == "" {
		req.SetMeta("watchDis", grid.Str(watchName))
		req.SetMeta("lease", grid.Number(float64(lease.Milliseconds()), "ms"))
	} else {
		req.SetMeta("watchId", grid.Str(watchID))
	}
	for _, id := range ids {
		req.Add("id", grid.Ref(id, ""))
	}

	res, err := s.do(ctx, Request{Op: OpWatchSub, Grid: req}, recoverable)
	if err != nil {
		if !errors.Is(err, ErrNoop) {
			s.fail(OpWatchSub, err)
		}
		return
	}
	if res.Err != "" {
		s.fail(OpWatchSub, errors.New(res.Err))
		return
	}

	s.mu.Lock()
	if v := res.Grid.Meta("watchId"); !v.IsAbsent() {
		s.watchID = metaText(v)
	}
	if v := res.Grid.Meta("lease"); !v.IsAbsent() {
		if d, err := Duration(v.Display()); err == nil && d > 0 {
			s.lease = d
		}
	}
	start := s.open && s.watchID != "" && s.pollCancel == nil
	watchID = s.watchID
	s.mu.Unlock()

	s.logger.Debug("Watch subscribed", "uri", s.URI(), "watch_id", watchID, "ids", len(ids))
	if start {
		s.startPolling()
	}
	s.dispatch(ctx, res.Grid)
}

// metaText reads an id-like metadata value as plain text.
func metaText(v grid.Value) string {
	switch v.Kind() {
	case grid.KindRef, grid.KindStr, grid.KindURI, grid.KindRaw:
		return v.Text()
	}
	return v.Display()
}

// Unsubscribe removes ids from the watch. A nil ids closes the whole watch;
// an empty non-nil slice does nothing. When no ids remain, polling stops
// and the watch id is cleared. Failures are counted and logged as well as
// returned.
func (s *Session) Unsubscribe(ctx context.Context, ids []string) error {
	return s.unsubscribe(ctx, ids, true)
}

func (s *Session) unsubscribe(ctx context.Context, ids []string, recoverable bool) error {
	if ids != nil && len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	watchID := s.watchID
	s.mu.Unlock()
	if watchID == "" {
		err := NewSessionError("no active watch")
		s.fail(OpWatchUnsub, err)
		return err
	}

	req := grid.New()
	req.SetMeta("watchId", grid.Str(watchID))
	if ids == nil {
		req.SetMeta("close", grid.Marker())
	}
	for _, id := range ids {
		req.Add("id", grid.Ref(normalizeID(id), ""))
	}

	res, err := s.do(ctx, Request{Op: OpWatchUnsub, Grid: req}, recoverable)
	if errors.Is(err, ErrNoop) {
		// Recovery re-subscribed every tracked id, these included.
		return s.unsubscribe(ctx, ids, false)
	}
	if err == nil && res.Err != "" {
		err = errors.New(res.Err)
	}
	if err != nil {
		s.fail(OpWatchUnsub, err)
		return err
	}

	s.mu.Lock()
	if ids == nil {
		s.watches = make(map[string]*WatchRecord)
		s.order = nil
	} else {
		for _, id := range ids {
			key := normalizeID(id)
			if _, ok := s.watches[key]; !ok {
				continue
			}
			delete(s.watches, key)
			for i, k := range s.order {
				if k == key {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		}
	}
	s.shapeGen++
	empty := len(s.watches) == 0
	if empty {
		s.watchID = ""
	}
	s.mu.Unlock()

	s.logger.Debug("Watch unsubscribed", "uri", s.URI(), "watch_id", watchID, "closed", empty)
	if empty {
		s.stopPolling()
	}
	return nil
}

// SetColumns limits dispatched grids to id plus the named columns. The
// next poll asks the server for a full refresh.
func (s *Session) SetColumns(names ...string) {
	s.mu.Lock()
	s.columns = append([]string(nil), names...)
	s.shapeGen++
	s.mu.Unlock()
}

// Poll requests changes since the last poll. A refresh is requested when
// ids or columns changed since the last successful poll. Failures are
// counted and logged as well as returned.
func (s *Session) Poll(ctx context.Context) error {
	s.mu.Lock()
	open := s.open
	watchID := s.watchID
	gen := s.shapeGen
	refresh := gen != s.polledGen
	uri := s.uri
	s.mu.Unlock()

	if !open {
		err := NewSessionError("session is closed")
		s.fail(OpWatchPoll, err)
		return err
	}
	if watchID == "" {
		err := NewSessionError("no active watch")
		s.fail(OpWatchPoll, err)
		return err
	}

	req := grid.New()
	req.SetMeta("watchId", grid.Str(watchID))
	if refresh {
		req.SetMeta("refresh", grid.Marker())
	}

	s.polls.Add(1)
	s.metrics.poll(uri)

	res, err := s.do(ctx, Request{Op: OpWatchPoll, Grid: req}, true)
	if errors.Is(err, ErrNoop) {
		return nil
	}
	if err == nil && res.Err != "" {
		err = errors.New(res.Err)
	}
	if err != nil {
		s.fail(OpWatchPoll, err)
		return err
	}

	s.mu.Lock()
	if gen > s.polledGen {
		s.polledGen = gen
	}
	s.mu.Unlock()

	s.dispatch(ctx, res.Grid)
	return nil
}

func (s *Session) startPolling() {
	s.mu.Lock()
	if !s.open || s.pollCancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.pollCancel = cancel
	s.pollDone = done
	interval := s.pollInterval
	s.mu.Unlock()

	go s.pollLoop(ctx, done, interval)
}

// stopPolling cancels the poll loop and returns a channel closed when it
// exits, or nil when no loop was running. It does not wait, so the loop
// itself may call it during recovery.
func (s *Session) stopPolling() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollCancel == nil {
		return nil
	}
	s.pollCancel()
	done := s.pollDone
	s.pollCancel = nil
	s.pollDone = nil
	return done
}

// pollLoop arms the next poll only after the previous one settles, so at
// most one poll is in flight.
func (s *Session) pollLoop(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		_ = s.Poll(ctx)
		timer.Reset(interval)
	}
}

// dispatch fans a response out to the session callback and to the record
// of each row's id.
func (s *Session) dispatch(ctx context.Context, g *grid.Grid) {
	if g == nil {
		return
	}

	s.mu.Lock()
	if len(s.columns) > 0 {
		g.Project(append([]string{"id"}, s.columns...)...)
	}
	onUpdate := s.onUpdate
	uri := s.uri
	s.mu.Unlock()

	rows := g.Rows()
	s.updates.Add(int64(rows))
	s.metrics.update(uri, rows)

	if onUpdate != nil {
		onUpdate(ctx, g)
	}

	idx := g.Index("id")
	if idx < 0 {
		return
	}
	for row := 0; row < rows; row++ {
		id := recordID(g.Display(idx, row))

		s.mu.Lock()
		rec := s.watches[id]
		var fn RecordFunc
		if rec != nil {
			fn = rec.fn
		}
		s.mu.Unlock()

		if rec == nil {
			continue
		}
		rec.updates.Add(1)
		if fn != nil {
			fn(rec, g, row)
		}
	}
}

func (s *Session) fail(op string, err error) {
	s.errors.Add(1)

	s.mu.Lock()
	uri, watchID := s.uri, s.watchID
	s.mu.Unlock()

	s.metrics.fail(uri, op)
	s.logger.Warn("Watch request failed",
		"uri", uri,
		"op", op,
		"watch_id", watchID,
		"error", err)
}
