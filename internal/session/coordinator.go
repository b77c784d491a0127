// Package session hosts the authoritative per-space coordinator: every
// mutation of a space's rows, locks, votes and change highlights serializes
// through one actor goroutine, is validated, persisted, then broadcast to all
// attached replicas of that space.
package session

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/stumn/Chatment-sub001/internal/lock"
	"github.com/stumn/Chatment-sub001/internal/metrics"
	"github.com/stumn/Chatment-sub001/internal/models"
	"github.com/stumn/Chatment-sub001/internal/order"
	"github.com/stumn/Chatment-sub001/internal/protocol"
	"github.com/stumn/Chatment-sub001/internal/reaction"
	"github.com/stumn/Chatment-sub001/internal/store"
	"github.com/stumn/Chatment-sub001/internal/track"
)

// maxTextLen bounds row content, matching the request body cap.
const maxTextLen = 4096

// mutationBudget is how many row mutations one actor may apply per minute
// across a space. Enforced only when Redis is configured.
const mutationBudget = 120

// subscriberBuffer is the per-session event queue; a session that falls this
// far behind is detached rather than allowed to stall the space.
const subscriberBuffer = 64

type subscriber struct {
	sessionID string
	identity  models.Identity
	ch        chan protocol.Envelope
}

// Coordinator owns the authoritative state of one space. All access goes
// through its request channel, so mutation processing is atomic per request
// and every participant observes row events in the same order.
type Coordinator struct {
	space   *models.Space
	db      store.DataStore
	cache   *store.RedisStore // optional, best-effort change mirror
	logger  zerolog.Logger
	locks   *lock.Manager
	ledger  *reaction.Ledger
	tracker *track.Tracker

	rows map[string]*models.Row
	subs map[string]*subscriber
	seq  uint64

	requests chan func()
	done     chan struct{}

	sweepEvery time.Duration
	nowFunc    func() time.Time
}

// NewCoordinator builds a coordinator over already-loaded rows and starts its
// actor goroutine. cache may be nil.
func NewCoordinator(space *models.Space, loaded []models.Row, db store.DataStore, cache *store.RedisStore, lease time.Duration, logger zerolog.Logger) *Coordinator {
	if lease <= 0 {
		lease = lock.DefaultLease
	}
	sweep := lease / 4
	if sweep < time.Second {
		sweep = time.Second
	}
	if sweep > 15*time.Second {
		sweep = 15 * time.Second
	}

	c := &Coordinator{
		space:      space,
		db:         db,
		cache:      cache,
		logger:     logger.With().Int64("space", space.ID).Logger(),
		locks:      lock.NewManager(lease),
		ledger:     reaction.NewLedger(),
		tracker:    track.NewTracker(),
		rows:       make(map[string]*models.Row, len(loaded)),
		subs:       make(map[string]*subscriber),
		requests:   make(chan func()),
		done:       make(chan struct{}),
		sweepEvery: sweep,
		nowFunc:    time.Now,
	}
	for i := range loaded {
		row := loaded[i].Clone()
		c.rows[row.ID] = row
		c.ledger.Seed(row.ID, row.Positive, row.Negative)
	}

	// Recover still-live change highlights cached by a previous coordinator
	// for this space. Best-effort, like every cache interaction.
	if cache != nil {
		if recs, err := cache.RecentChanges(context.Background(), space.ID, c.nowFunc()); err == nil {
			for _, rec := range recs {
				if _, ok := c.rows[rec.RowID]; ok || rec.Kind == models.ChangeDeleted {
					c.tracker.Seed(rec)
				}
			}
		}
	}

	go c.run()
	return c
}

// Space returns the space this coordinator owns.
func (c *Coordinator) Space() *models.Space {
	return c.space
}

// Stop shuts the coordinator down and disconnects all subscribers.
func (c *Coordinator) Stop() {
	select {
	case <-c.done:
		return
	default:
	}
	stop := func() {
		for _, sub := range c.subs {
			close(sub.ch)
		}
		c.subs = make(map[string]*subscriber)
		close(c.done)
	}
	select {
	case c.requests <- stop:
	case <-c.done:
	}
}

func (c *Coordinator) run() {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case fn := <-c.requests:
			fn()
			select {
			case <-c.done:
				return
			default:
			}
		case <-ticker.C:
			c.sweepLeases()
		case <-c.done:
			return
		}
	}
}

// do runs fn on the coordinator goroutine and waits for it to be accepted.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	select {
	case c.requests <- fn:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach subscribes a transport session. The first envelope on the returned
// channel is the history snapshot; the channel closes on Detach, Stop, or
// when the session falls too far behind.
func (c *Coordinator) Attach(ctx context.Context, sessionID string, identity models.Identity) (<-chan protocol.Envelope, error) {
	type result struct {
		ch  <-chan protocol.Envelope
		err error
	}
	rc := make(chan result, 1)
	err := c.do(ctx, func() {
		sub := &subscriber{
			sessionID: sessionID,
			identity:  identity,
			ch:        make(chan protocol.Envelope, subscriberBuffer),
		}
		snap := c.historyLocked()
		env, err := protocol.Seal(protocol.TypeHistorySnapshot, c.seq, snap)
		if err != nil {
			rc <- result{nil, err}
			return
		}
		sub.ch <- env
		c.subs[sessionID] = sub
		metrics.SessionsAttached.Inc()
		rc <- result{sub.ch, nil}
	})
	if err != nil {
		return nil, err
	}
	select {
	case res := <-rc:
		return res.ch, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Detach removes a transport session and immediately releases every lock it
// held, broadcasting the releases.
func (c *Coordinator) Detach(sessionID string) {
	_ = c.do(context.Background(), func() {
		c.detachLocked(sessionID)
	})
}

func (c *Coordinator) detachLocked(sessionID string) {
	if sub, ok := c.subs[sessionID]; ok {
		delete(c.subs, sessionID)
		close(sub.ch)
		metrics.SessionsDetached.Inc()
	}
	for _, lk := range c.locks.ReleaseSession(sessionID) {
		c.broadcast("", protocol.TypeLockReleased, protocol.LockEvent{Lock: lk})
	}
}

// AddRow inserts a row after the anchor; an absent anchor means before
// everything in the room.
func (c *Coordinator) AddRow(ctx context.Context, identity models.Identity, req protocol.AddRow) (*models.Row, error) {
	type result struct {
		row *models.Row
		err error
	}
	rc := make(chan result, 1)
	if err := c.do(ctx, func() {
		row, err := c.addRow(ctx, identity, req)
		rc <- result{row, err}
	}); err != nil {
		return nil, err
	}
	res := <-rc
	return res.row, res.err
}

// allowMutation charges one row mutation against the actor's budget. Cache
// trouble never blocks the space.
func (c *Coordinator) allowMutation(ctx context.Context, actorID string) error {
	if c.cache == nil {
		return nil
	}
	ok, err := c.cache.CheckRateLimit(ctx, actorID, mutationBudget)
	if err != nil {
		c.logger.Debug().Err(err).Msg("rate limit check failed")
		return nil
	}
	if !ok {
		return ErrRateLimited
	}
	if err := c.cache.IncrementRateLimit(ctx, actorID, time.Minute); err != nil {
		c.logger.Debug().Err(err).Msg("rate limit increment failed")
	}
	return nil
}

func (c *Coordinator) addRow(ctx context.Context, identity models.Identity, req protocol.AddRow) (*models.Row, error) {
	if err := c.allowMutation(ctx, identity.ActorID); err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, validationf("text is required")
	}
	if len(req.Text) > maxTextLen {
		return nil, validationf("text too long (max %d bytes)", maxTextLen)
	}
	room := req.Room
	if room == "" {
		room = c.space.DefaultRoom
	}
	if !c.space.HasRoom(room) {
		return nil, validationf("unknown room %q", room)
	}

	pos, err := c.positionAfter(ctx, room, req.AfterRowID, "")
	if err != nil {
		return nil, err
	}

	now := c.nowFunc()
	row := &models.Row{
		ID:        ulid.Make().String(),
		SpaceID:   c.space.ID,
		Room:      room,
		AuthorID:  identity.ActorID,
		Nickname:  identity.Nickname,
		Text:      req.Text,
		Position:  pos,
		CreatedAt: now.UnixMilli(),
	}

	if err := c.db.SaveRow(ctx, row); err != nil {
		return nil, &PersistenceError{Err: err}
	}

	c.rows[row.ID] = row
	rec := c.record(row.ID, models.ChangeAdded, identity.Nickname)
	metrics.RowMutations.WithLabelValues("add").Inc()
	c.broadcast("", protocol.TypeRowAdded, protocol.RowEvent{Row: *row.Clone(), Change: &rec})
	return row.Clone(), nil
}

// EditRow mutates row text. The caller must hold the row's lock at the time
// of the request; this is what prevents lost updates between two editors.
func (c *Coordinator) EditRow(ctx context.Context, identity models.Identity, req protocol.EditRow) (*models.Row, error) {
	type result struct {
		row *models.Row
		err error
	}
	rc := make(chan result, 1)
	if err := c.do(ctx, func() {
		row, err := c.editRow(ctx, identity, req)
		rc <- result{row, err}
	}); err != nil {
		return nil, err
	}
	res := <-rc
	return res.row, res.err
}

func (c *Coordinator) editRow(ctx context.Context, identity models.Identity, req protocol.EditRow) (*models.Row, error) {
	if err := c.allowMutation(ctx, identity.ActorID); err != nil {
		return nil, err
	}
	if len(req.Text) > maxTextLen {
		return nil, validationf("text too long (max %d bytes)", maxTextLen)
	}
	row, ok := c.rows[req.RowID]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.locks.HeldBy(req.RowID, identity.ActorID) {
		conflict := &LockConflictError{RowID: req.RowID}
		if holder := c.locks.Holder(req.RowID); holder != nil {
			conflict.HolderID = holder.HolderID
			conflict.HolderName = holder.HolderName
		}
		metrics.LockConflicts.Inc()
		return nil, conflict
	}

	updated := row.Clone()
	updated.Text = req.Text
	if err := c.db.SaveRow(ctx, updated); err != nil {
		return nil, &PersistenceError{Err: err}
	}

	c.rows[updated.ID] = updated
	rec := c.record(updated.ID, models.ChangeModified, identity.Nickname)
	metrics.RowMutations.WithLabelValues("edit").Inc()
	c.broadcast("", protocol.TypeRowEdited, protocol.RowEvent{Row: *updated.Clone(), Change: &rec})
	return updated.Clone(), nil
}

// DeleteRow hard-removes a row; there is no undo.
func (c *Coordinator) DeleteRow(ctx context.Context, identity models.Identity, req protocol.DeleteRow) error {
	rc := make(chan error, 1)
	if err := c.do(ctx, func() {
		rc <- c.deleteRow(ctx, identity, req)
	}); err != nil {
		return err
	}
	return <-rc
}

func (c *Coordinator) deleteRow(ctx context.Context, identity models.Identity, req protocol.DeleteRow) error {
	if err := c.allowMutation(ctx, identity.ActorID); err != nil {
		return err
	}
	if _, ok := c.rows[req.RowID]; !ok {
		return ErrNotFound
	}
	if err := c.db.DeleteRow(ctx, req.RowID); err != nil {
		return &PersistenceError{Err: err}
	}

	delete(c.rows, req.RowID)
	c.locks.ReleaseRow(req.RowID)
	c.ledger.Forget(req.RowID)
	rec := c.record(req.RowID, models.ChangeDeleted, identity.Nickname)
	metrics.RowMutations.WithLabelValues("delete").Inc()
	c.broadcast("", protocol.TypeRowDeleted, protocol.RowDeleted{RowID: req.RowID, Change: &rec})
	return nil
}

// ReorderRow repositions a row after the anchor using the same midpoint rule
// against the current neighbor set.
func (c *Coordinator) ReorderRow(ctx context.Context, identity models.Identity, req protocol.ReorderRow) (*models.Row, error) {
	type result struct {
		row *models.Row
		err error
	}
	rc := make(chan result, 1)
	if err := c.do(ctx, func() {
		row, err := c.reorderRow(ctx, identity, req)
		rc <- result{row, err}
	}); err != nil {
		return nil, err
	}
	res := <-rc
	return res.row, res.err
}

func (c *Coordinator) reorderRow(ctx context.Context, identity models.Identity, req protocol.ReorderRow) (*models.Row, error) {
	if err := c.allowMutation(ctx, identity.ActorID); err != nil {
		return nil, err
	}
	row, ok := c.rows[req.RowID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.AfterRowID == req.RowID {
		return nil, validationf("row cannot anchor on itself")
	}

	pos, err := c.positionAfter(ctx, row.Room, req.AfterRowID, row.ID)
	if err != nil {
		return nil, err
	}

	updated := row.Clone()
	updated.Position = pos
	if err := c.db.SaveRow(ctx, updated); err != nil {
		return nil, &PersistenceError{Err: err}
	}

	c.rows[updated.ID] = updated
	rec := c.record(updated.ID, models.ChangeReordered, identity.Nickname)
	metrics.RowMutations.WithLabelValues("reorder").Inc()
	c.broadcast("", protocol.TypeRowReordered, protocol.RowEvent{Row: *updated.Clone(), Change: &rec})
	return updated.Clone(), nil
}

// AcquireLock claims a row's edit lease. The grant or denial goes only to the
// requester; a grant is additionally broadcast to the other participants.
func (c *Coordinator) AcquireLock(ctx context.Context, sessionID string, identity models.Identity, rowID string) (granted *models.Lock, holder *models.Lock, err error) {
	type result struct {
		granted *models.Lock
		holder  *models.Lock
		err     error
	}
	rc := make(chan result, 1)
	if err := c.do(ctx, func() {
		g, h, err := c.acquireLock(sessionID, identity, rowID)
		rc <- result{g, h, err}
	}); err != nil {
		return nil, nil, err
	}
	res := <-rc
	return res.granted, res.holder, res.err
}

func (c *Coordinator) acquireLock(sessionID string, identity models.Identity, rowID string) (*models.Lock, *models.Lock, error) {
	if _, ok := c.rows[rowID]; !ok {
		return nil, nil, ErrNotFound
	}
	granted, holder := c.locks.Acquire(rowID, sessionID, identity.ActorID, identity.Nickname)
	if granted == nil {
		metrics.LocksDenied.Inc()
		return nil, holder, nil
	}
	metrics.LocksGranted.Inc()
	c.broadcast(sessionID, protocol.TypeLockGranted, protocol.LockEvent{Lock: *granted})
	return granted, nil, nil
}

// ReleaseLock releases a row's lease iff the caller holds it. A non-holder
// release is ignored, not an error.
func (c *Coordinator) ReleaseLock(ctx context.Context, identity models.Identity, rowID string) (bool, error) {
	rc := make(chan bool, 1)
	if err := c.do(ctx, func() {
		released := c.locks.Release(rowID, identity.ActorID)
		if released {
			c.broadcast("", protocol.TypeLockReleased, protocol.LockEvent{Lock: models.Lock{RowID: rowID, HolderID: identity.ActorID, HolderName: identity.Nickname}})
		}
		rc <- released
	}); err != nil {
		return false, err
	}
	return <-rc, nil
}

// CastVote records an at-most-once reaction. A duplicate vote is a defined,
// silent outcome reported only to the requester.
func (c *Coordinator) CastVote(ctx context.Context, identity models.Identity, req protocol.Vote) (protocol.VoteUpdated, error) {
	type result struct {
		upd protocol.VoteUpdated
		err error
	}
	rc := make(chan result, 1)
	if err := c.do(ctx, func() {
		upd, err := c.castVote(ctx, identity, req)
		rc <- result{upd, err}
	}); err != nil {
		return protocol.VoteUpdated{}, err
	}
	res := <-rc
	return res.upd, res.err
}

func (c *Coordinator) castVote(ctx context.Context, identity models.Identity, req protocol.Vote) (protocol.VoteUpdated, error) {
	if !req.Polarity.Valid() {
		return protocol.VoteUpdated{}, validationf("unknown polarity %q", req.Polarity)
	}
	row, ok := c.rows[req.RowID]
	if !ok {
		return protocol.VoteUpdated{}, ErrNotFound
	}

	if c.ledger.Member(req.RowID, identity.ActorID, req.Polarity) {
		metrics.VotesCast.WithLabelValues(string(req.Polarity), "duplicate").Inc()
		return protocol.VoteUpdated{
			RowID:    req.RowID,
			Polarity: req.Polarity,
			Count:    c.ledger.Count(req.RowID, req.Polarity),
			Accepted: false,
		}, nil
	}

	// Persist the prospective membership first so a failed write leaves
	// both the ledger and the row untouched.
	updated := row.Clone()
	if req.Polarity == models.PolarityPositive {
		updated.Positive = append(updated.Positive, identity.ActorID)
	} else {
		updated.Negative = append(updated.Negative, identity.ActorID)
	}
	if err := c.db.SaveRow(ctx, updated); err != nil {
		return protocol.VoteUpdated{}, &PersistenceError{Err: err}
	}

	_, count := c.ledger.Vote(req.RowID, identity.ActorID, req.Polarity)
	c.rows[updated.ID] = updated
	metrics.VotesCast.WithLabelValues(string(req.Polarity), "accepted").Inc()

	upd := protocol.VoteUpdated{
		RowID:    req.RowID,
		Polarity: req.Polarity,
		Count:    count,
		Accepted: true,
	}
	c.broadcast("", protocol.TypeVoteUpdated, upd)
	return upd, nil
}

// ClearChange drops a row's change highlight once it has fully faded.
func (c *Coordinator) ClearChange(ctx context.Context, rowID string) error {
	return c.do(ctx, func() {
		c.tracker.Clear(rowID)
		if c.cache != nil {
			if err := c.cache.DropChange(ctx, c.space.ID, rowID); err != nil {
				c.logger.Debug().Err(err).Msg("change cache drop failed")
			}
		}
	})
}

// History returns the snapshot a newly joined client needs: the ordered row
// list, active locks and live change highlights.
func (c *Coordinator) History(ctx context.Context) (protocol.HistorySnapshot, error) {
	rc := make(chan protocol.HistorySnapshot, 1)
	if err := c.do(ctx, func() {
		rc <- c.historyLocked()
	}); err != nil {
		return protocol.HistorySnapshot{}, err
	}
	select {
	case snap := <-rc:
		return snap, nil
	case <-ctx.Done():
		return protocol.HistorySnapshot{}, ctx.Err()
	}
}

func (c *Coordinator) historyLocked() protocol.HistorySnapshot {
	rows := make([]models.Row, 0, len(c.rows))
	for _, row := range c.sortedRows("") {
		rows = append(rows, *row.Clone())
	}
	return protocol.HistorySnapshot{
		SpaceID: c.space.ID,
		Rows:    rows,
		Locks:   c.locks.Active(),
		Changes: c.tracker.Snapshot(c.nowFunc()),
	}
}

// positionAfter computes a position after the anchor among the room's current
// rows, excluding excludeID (the row being moved). An empty anchor means
// before everything. A vanished anchor is not an error: the position is
// recomputed against the current neighbors, which places the row last.
func (c *Coordinator) positionAfter(ctx context.Context, room, afterRowID, excludeID string) (order.Key, error) {
	siblings := c.sortedRows(room)
	if excludeID != "" {
		trimmed := siblings[:0]
		for _, r := range siblings {
			if r.ID != excludeID {
				trimmed = append(trimmed, r)
			}
		}
		siblings = trimmed
	}

	var prev, next order.Key
	if afterRowID == "" {
		if len(siblings) > 0 {
			next = siblings[0].Position
		}
	} else {
		idx := -1
		for i, r := range siblings {
			if r.ID == afterRowID {
				idx = i
				break
			}
		}
		if idx == -1 {
			// Stale anchor: the row it pointed at is gone.
			if len(siblings) > 0 {
				prev = siblings[len(siblings)-1].Position
			}
		} else {
			prev = siblings[idx].Position
			if idx+1 < len(siblings) {
				next = siblings[idx+1].Position
			}
		}
	}

	pos, err := order.Between(prev, next)
	if errors.Is(err, order.ErrExhausted) {
		if err := c.rebalance(ctx, room); err != nil {
			return "", err
		}
		return c.positionAfter(ctx, room, afterRowID, excludeID)
	}
	if err != nil {
		return "", validationf("position: %v", err)
	}
	return pos, nil
}

// rebalance reassigns evenly spaced positions to every row in the room,
// persisted and broadcast as one atomic bulk reorder. Relative order is
// preserved; this is the only multi-row mutation in the system.
func (c *Coordinator) rebalance(ctx context.Context, room string) error {
	siblings := c.sortedRows(room)
	if len(siblings) == 0 {
		return nil
	}

	keys := order.Spread(len(siblings))
	updated := make([]*models.Row, len(siblings))
	for i, row := range siblings {
		cp := row.Clone()
		cp.Position = keys[i]
		updated[i] = cp
	}

	if err := c.db.SaveRows(ctx, updated); err != nil {
		return &PersistenceError{Err: err}
	}

	event := protocol.RowsRebalanced{Room: room, Rows: make([]protocol.RebalancedRow, len(updated))}
	for i, cp := range updated {
		c.rows[cp.ID] = cp
		event.Rows[i] = protocol.RebalancedRow{RowID: cp.ID, Position: string(cp.Position)}
	}
	metrics.Rebalances.Inc()
	c.logger.Info().Str("room", room).Int("rows", len(updated)).Msg("rebalanced row positions")
	c.broadcast("", protocol.TypeRowsRebalanced, event)
	return nil
}

// sortedRows returns the rows of a room (or all rooms when room is empty)
// ordered by position, ties broken by lower row id.
func (c *Coordinator) sortedRows(room string) []*models.Row {
	out := make([]*models.Row, 0, len(c.rows))
	for _, row := range c.rows {
		if room == "" || row.Room == room {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if room == "" && out[i].Room != out[j].Room {
			return out[i].Room < out[j].Room
		}
		return out[i].Before(out[j])
	})
	return out
}

// record updates the change tracker and mirrors the record to the cache.
func (c *Coordinator) record(rowID string, kind models.ChangeKind, actor string) models.ChangeRecord {
	rec := c.tracker.Record(rowID, kind, actor)
	if c.cache != nil {
		if err := c.cache.CacheChange(context.Background(), c.space.ID, rec); err != nil {
			c.logger.Debug().Err(err).Msg("change cache write failed")
		}
	}
	return rec
}

// sweepLeases runs on the coordinator goroutine and releases lapsed locks.
// Expiry is an expected transition, broadcast silently rather than errored.
func (c *Coordinator) sweepLeases() {
	for _, lk := range c.locks.ExpireStale(c.nowFunc()) {
		metrics.LocksExpired.Inc()
		c.logger.Debug().Str("row", lk.RowID).Str("holder", lk.HolderName).Msg("lock lease expired")
		c.broadcast("", protocol.TypeLockReleased, protocol.LockEvent{Lock: lk})
	}
}

// broadcast seals an event, stamps the next sequence number and fans it out.
// exceptSession is skipped when non-empty. Sessions that cannot keep up are
// detached so the space never blocks on one slow consumer.
func (c *Coordinator) broadcast(exceptSession, msgType string, payload any) {
	c.seq++
	env, err := protocol.Seal(msgType, c.seq, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("type", msgType).Msg("event marshal failed")
		return
	}

	var stalled []string
	for id, sub := range c.subs {
		if id == exceptSession {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			stalled = append(stalled, id)
		}
	}
	for _, id := range stalled {
		c.logger.Warn().Str("session", id).Msg("detaching slow subscriber")
		c.detachLocked(id)
	}
	metrics.EventsBroadcast.WithLabelValues(msgType).Inc()
}
