// Package engine implements the client-side sync agent: per-key debounced
// pushes, offline queueing, the realtime connection state machine and the
// reconciliation pull loop.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/shiftsync/shiftsync/internal/auth"
	"github.com/shiftsync/shiftsync/internal/core/channel"
	"github.com/shiftsync/shiftsync/internal/core/events/bus"
	"github.com/shiftsync/shiftsync/internal/core/observability/log"
	"github.com/shiftsync/shiftsync/internal/core/queue"
	"github.com/shiftsync/shiftsync/internal/core/sync"
)

// Config holds engine timings. Zero fields take defaults.
type Config struct {
	// DebounceWindow coalesces local writes per key; reset on every write,
	// so the last value always wins.
	DebounceWindow time.Duration
	// ConnectTimeout is the hard ceiling for one connect attempt. When it
	// elapses without reaching realtime the state drops to offline and a
	// backoff reconnect is scheduled.
	ConnectTimeout time.Duration
	// ReconcileInterval drives the periodic pull, and the retry of queued
	// pushes, while realtime.
	ReconcileInterval time.Duration
	// RequestTimeout bounds one push or pull HTTP call.
	RequestTimeout time.Duration

	BackoffSeed   time.Duration
	BackoffFactor float64
	BackoffCap    time.Duration
}

func DefaultConfig() Config {
	return Config{
		DebounceWindow:    300 * time.Millisecond,
		ConnectTimeout:    7 * time.Second,
		ReconcileInterval: 5 * time.Second,
		RequestTimeout:    15 * time.Second,
		BackoffSeed:       1200 * time.Millisecond,
		BackoffFactor:     1.6,
		BackoffCap:        12 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = d.DebounceWindow
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = d.ReconcileInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.BackoffSeed <= 0 {
		c.BackoffSeed = d.BackoffSeed
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = d.BackoffCap
	}
	return c
}

// Deps are the collaborators the engine orchestrates. Queue, Channel,
// Transport and Tokens are required; the rest are optional.
type Deps struct {
	Queue     queue.Store
	Channel   channel.Adapter
	Transport *Transport
	Tokens    auth.TokenProvider
	Bus       bus.EventBus
	Logger    log.Log

	// LocalApply writes a remote update into the surrounding application's
	// store without re-triggering sync. It must be idempotent and
	// loop-safe: the engine may deliver the same document more than once.
	LocalApply func(key sync.Key, value json.RawMessage)
	// DevRelay, when set, receives every local write best-effort.
	DevRelay func(key sync.Key, value json.RawMessage)
	// Audit, when set, receives client-side errors best-effort.
	Audit func(op string, err error)
}

// SyncEngine owns all previously-global sync state: the client id, the
// debounce timers, the value snapshots, the connection handle and the
// reconcile watermark. One instance per session.
type SyncEngine struct {
	cfg      Config
	deps     Deps
	clientID string
	logger   log.Log
	bo       *backoff

	// epoch is the generation counter. Every connect attempt bumps it;
	// callbacks tagged with an older epoch are discarded.
	epoch  atomic.Uint64
	closed atomic.Bool

	// flushing is the single-flight guard for FlushQueue.
	flushing atomic.Bool

	mu            gosync.Mutex
	state         ConnState
	lastOKAt      time.Time
	lastCloudTS   time.Time
	snapshots     map[sync.Key]json.RawMessage
	fingerprints  map[sync.Key]uint64
	pendingRemove map[sync.Key]map[string]bool
	timers        map[sync.Key]*time.Timer
	unsubscribe   channel.Unsubscribe
}

func New(cfg Config, deps Deps) *SyncEngine {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = log.Nop()
	}

	e := &SyncEngine{
		cfg:           cfg,
		deps:          deps,
		clientID:      uuid.NewString(),
		bo:            newBackoff(cfg.BackoffSeed, cfg.BackoffFactor, cfg.BackoffCap),
		state:         StateOffline,
		snapshots:     make(map[sync.Key]json.RawMessage),
		fingerprints:  make(map[sync.Key]uint64),
		pendingRemove: make(map[sync.Key]map[string]bool),
		timers:        make(map[sync.Key]*time.Timer),
	}
	e.logger = logger.With(
		log.String("component", "sync_engine"),
		log.String("client_id", e.clientID))
	return e
}

// ClientID returns the id stamped on every outgoing push, used for echo
// suppression.
func (e *SyncEngine) ClientID() string { return e.clientID }

// State returns the current connection state.
func (e *SyncEngine) State() ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Init starts the engine: it kicks off the first connect attempt. Queued
// writes from a previous session flush once the channel subscribes.
func (e *SyncEngine) Init() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	e.logger.Info("sync engine starting")
	go e.Connect()
	return nil
}

// Shutdown invalidates all outstanding callbacks and tears down the
// subscription. The queue is left intact for the next session.
func (e *SyncEngine) Shutdown() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.epoch.Add(1)

	e.mu.Lock()
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = make(map[sync.Key]*time.Timer)
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	e.setState(StateOffline, "shutdown")
	e.logger.Info("sync engine stopped")
}

// OnLocalWrite is called by the surrounding application on every local
// mutation. It snapshots the value for diffing, relays to the dev hook and
// schedules a debounced push. The debounce timer resets on every call, so
// only the final value of a burst is pushed.
func (e *SyncEngine) OnLocalWrite(key sync.Key, value json.RawMessage) {
	if e.closed.Load() || !sync.Valid(key) {
		return
	}

	value = append(json.RawMessage(nil), value...)

	e.mu.Lock()
	prev := e.snapshots[key]
	e.snapshots[key] = value

	if sync.PolicyFor(key) == sync.PolicyArray {
		for _, id := range diffRemoved(prev, value) {
			if e.pendingRemove[key] == nil {
				e.pendingRemove[key] = make(map[string]bool)
			}
			e.pendingRemove[key][id] = true
		}
	}

	if t, ok := e.timers[key]; ok {
		t.Stop()
	}
	e.timers[key] = time.AfterFunc(e.cfg.DebounceWindow, func() {
		e.pushKey(key)
	})
	e.mu.Unlock()

	if e.deps.DevRelay != nil {
		go e.deps.DevRelay(key, value)
	}
}

// diffRemoved returns the identifiers present in prev but absent from next.
// Items without a resolvable identifier cannot be tracked for removal.
func diffRemoved(prev, next json.RawMessage) []string {
	prevItems := decodeItems(prev)
	if len(prevItems) == 0 {
		return nil
	}
	nextIDs := make(map[string]bool)
	for _, item := range decodeItems(next) {
		if id := sync.ItemID(item); id != "" {
			nextIDs[id] = true
		}
	}
	var removed []string
	for _, item := range prevItems {
		if id := sync.ItemID(item); id != "" && !nextIDs[id] {
			removed = append(removed, id)
		}
	}
	return removed
}

func decodeItems(raw json.RawMessage) []map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	var out []map[string]any
	for _, v := range list {
		if item, ok := v.(map[string]any); ok {
			out = append(out, item)
		}
	}
	return out
}

// pushKey fires when a key's debounce window elapses: push immediately when
// realtime, otherwise queue and kick a connect attempt.
func (e *SyncEngine) pushKey(key sync.Key) {
	if e.closed.Load() {
		return
	}

	e.mu.Lock()
	delete(e.timers, key)
	value := e.snapshots[key]
	removed := make([]string, 0, len(e.pendingRemove[key]))
	for id := range e.pendingRemove[key] {
		removed = append(removed, id)
	}
	delete(e.pendingRemove, key)

	fp := fingerprint(value, removed)
	if fp == e.fingerprints[key] {
		e.mu.Unlock()
		return
	}
	state := e.state
	e.mu.Unlock()

	req := sync.PushRequest{
		Key:        key,
		Value:      value,
		Op:         sync.OpFor(sync.PolicyFor(key)),
		RemovedIDs: removed,
		ClientID:   e.clientID,
		TS:         time.Now().UTC(),
	}

	if state != StateRealtime {
		e.park(req, queue.ReasonOffline, "")
		go e.Connect()
		return
	}

	token := e.deps.Tokens.Token()
	if token == "" {
		e.park(req, queue.ReasonNoToken, "")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
	err := e.deps.Transport.Push(ctx, req, token)
	cancel()

	switch {
	case err == nil:
		e.markOK(key, fp)
	case IsPermanent(err):
		e.logger.Error("push rejected permanently",
			log.String("key", string(key)), log.Error(err))
		e.audit("push", err)
	default:
		e.logger.Warn("push failed, queueing",
			log.String("key", string(key)), log.Error(err))
		e.park(req, queue.ReasonPushFailed, err.Error())
	}
}

// park stores a failed or unsendable push in the local queue; any previous
// entry for the key is overwritten.
func (e *SyncEngine) park(req sync.PushRequest, reason, lastErr string) {
	err := e.deps.Queue.Enqueue(queue.Entry{
		Key:        req.Key,
		Value:      req.Value,
		RemovedIDs: req.RemovedIDs,
		Op:         req.Op,
		EnqueuedAt: time.Now().UTC(),
		LastError:  lastErr,
		Reason:     reason,
	})
	if err != nil {
		e.logger.Error("enqueue failed", log.String("key", string(req.Key)), log.Error(err))
		e.audit("enqueue", err)
	}
}

func (e *SyncEngine) markOK(key sync.Key, fp uint64) {
	e.mu.Lock()
	e.fingerprints[key] = fp
	e.lastOKAt = time.Now().UTC()
	e.mu.Unlock()
}

// fingerprint hashes the canonical push content so an unchanged value does
// not generate a redundant push.
func fingerprint(value json.RawMessage, removedIDs []string) uint64 {
	h := xxhash.New()
	_, _ = h.Write(value)
	for _, id := range removedIDs {
		_, _ = h.WriteString("\x00" + id)
	}
	return h.Sum64()
}

// FlushQueue drains the pending-write queue, one push per entry. It is
// single-flight: concurrent triggers (timer, reconnect, manual) no-op while
// a flush is in progress.
func (e *SyncEngine) FlushQueue(trigger string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if !e.flushing.CompareAndSwap(false, true) {
		return ErrFlushInFlight
	}
	defer e.flushing.Store(false)

	entries, err := e.deps.Queue.All()
	if err != nil {
		e.audit("flush", err)
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	e.logger.Info("flushing queue",
		log.String("trigger", trigger), log.Int("entries", len(entries)))

	token := e.deps.Tokens.Token()
	if token == "" {
		// park everything: missing auth is not a push failure
		for _, entry := range entries {
			entry.Tries++
			entry.LastError = ErrAuthMissing.Error()
			_ = e.deps.Queue.Update(entry)
		}
		return ErrAuthMissing
	}

	for _, entry := range entries {
		req := sync.PushRequest{
			Key:        entry.Key,
			Value:      entry.Value,
			Op:         entry.Op,
			RemovedIDs: entry.RemovedIDs,
			ClientID:   e.clientID,
			TS:         time.Now().UTC(),
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
		err := e.deps.Transport.Push(ctx, req, token)
		cancel()

		switch {
		case err == nil:
			_ = e.deps.Queue.Remove(entry.Key)
			e.markOK(entry.Key, fingerprint(entry.Value, entry.RemovedIDs))
		case IsPermanent(err):
			// permission denial is not transient; drop without retry
			_ = e.deps.Queue.Remove(entry.Key)
			e.logger.Error("queued push dropped",
				log.String("key", string(entry.Key)), log.Error(err))
			e.audit("flush", err)
		default:
			entry.Tries++
			entry.LastError = err.Error()
			_ = e.deps.Queue.Update(entry)
			e.logger.Warn("queued push failed, will retry",
				log.String("key", string(entry.Key)),
				log.Int("tries", entry.Tries), log.Error(err))
		}
	}
	return nil
}

// Connect starts a new connect attempt under a fresh epoch. Safe to call
// at any time; a superseded attempt's callbacks are discarded.
func (e *SyncEngine) Connect() {
	if e.closed.Load() {
		return
	}
	epoch := e.epoch.Add(1)

	e.mu.Lock()
	if e.unsubscribe != nil {
		unsub := e.unsubscribe
		e.unsubscribe = nil
		go unsub()
	}
	e.mu.Unlock()

	e.setState(StateConnecting, fmt.Sprintf("connecting (attempt %d)", epoch))

	token := e.deps.Tokens.Token()
	if token == "" {
		if fresh, err := e.deps.Tokens.Refresh(); err == nil && fresh != "" {
			token = fresh
		}
	}
	if token == "" {
		e.setState(StateOffline, "waiting for auth token")
		e.scheduleReconnect(epoch)
		return
	}

	// hard ceiling: still not realtime when this fires means the attempt
	// failed, whatever the channel reports later
	time.AfterFunc(e.cfg.ConnectTimeout, func() {
		if e.epoch.Load() != epoch || e.closed.Load() {
			return
		}
		if e.State() != StateRealtime {
			e.setState(StateOffline, "connect timeout")
			e.scheduleReconnect(epoch)
		}
	})

	unsub, err := e.deps.Channel.Subscribe(context.Background(), token,
		func(ev sync.ChangeEvent) {
			if e.epoch.Load() == epoch {
				e.applyRemote(ev)
			}
		},
		func(status channel.Status, cause error) {
			e.handleChannelStatus(epoch, status, cause)
		})
	if err != nil {
		e.logger.Warn("subscribe failed", log.Error(err))
		e.audit("subscribe", err)
		e.scheduleReconnect(epoch)
		return
	}

	e.mu.Lock()
	if e.epoch.Load() == epoch {
		e.unsubscribe = unsub
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	// a newer attempt superseded us while dialing
	unsub()
}

// ForceReconnect is the manual entry point: it re-runs connect with a
// fresh generation.
func (e *SyncEngine) ForceReconnect() {
	e.logger.Info("forcing reconnect")
	e.Connect()
}

// Reauthorize rotates the channel's bearer token after a refresh. When the
// adapter cannot rotate in place, it falls back to a full reconnect.
func (e *SyncEngine) Reauthorize() {
	token, err := e.deps.Tokens.Refresh()
	if err != nil || token == "" {
		e.logger.Warn("token refresh failed", log.Error(err))
		e.audit("reauthorize", err)
		return
	}
	if err := e.deps.Channel.Reauthorize(token); err != nil {
		if errors.Is(err, channel.ErrReauthorizeUnavailable) {
			e.Connect()
			return
		}
		e.logger.Warn("reauthorize failed", log.Error(err))
	}
}

// handleChannelStatus maps channel lifecycle callbacks onto the state
// machine. Callbacks carrying a stale epoch are ignored so a superseded
// channel cannot flip fresh state backward.
func (e *SyncEngine) handleChannelStatus(epoch uint64, status channel.Status, cause error) {
	if e.epoch.Load() != epoch || e.closed.Load() {
		e.logger.Debug("stale channel callback ignored",
			log.Uint64("epoch", epoch), log.String("status", string(status)))
		return
	}

	switch status {
	case channel.StatusSubscribed:
		e.mu.Lock()
		e.state = StateRealtime
		e.lastOKAt = time.Now().UTC()
		e.bo.Reset()
		e.mu.Unlock()
		e.emitStatus("subscribed")

		go func() {
			if err := e.FlushQueue("subscribed"); err != nil &&
				!errors.Is(err, ErrFlushInFlight) && !errors.Is(err, ErrAuthMissing) {
				e.logger.Warn("post-subscribe flush failed", log.Error(err))
			}
			e.Reconcile()
		}()
		go e.reconcileLoop(epoch)

	case channel.StatusChannelError, channel.StatusTimedOut:
		// stay in connecting: dropping to offline here would flicker the UI
		e.setState(StateConnecting, fmt.Sprintf("channel %s", status))
		if cause != nil {
			e.audit("channel", cause)
		}
		e.scheduleReconnect(epoch)

	case channel.StatusClosed:
		// also covers the intentional resubscribe during token rotation
		e.setState(StateConnecting, "channel closed")
		e.scheduleReconnect(epoch)
	}
}

// scheduleReconnect arms a backoff timer for a new connect attempt. The
// timer is dropped when a newer attempt supersedes this epoch first.
func (e *SyncEngine) scheduleReconnect(epoch uint64) {
	if e.closed.Load() {
		return
	}

	e.mu.Lock()
	delay := e.bo.Next()
	e.mu.Unlock()

	e.logger.Debug("reconnect scheduled",
		log.Duration("delay", delay), log.Uint64("epoch", epoch))

	time.AfterFunc(delay, func() {
		if e.epoch.Load() != epoch || e.closed.Load() {
			return
		}
		e.Connect()
	})
}

// reconcileLoop runs periodic pulls while this epoch stays realtime. Each
// tick also retries queued pushes: a transient push failure would otherwise
// sit parked until the channel bounces, with remote applies for that key
// suppressed the whole time.
func (e *SyncEngine) reconcileLoop(epoch uint64) {
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()

	for range ticker.C {
		if e.epoch.Load() != epoch || e.closed.Load() {
			return
		}
		if e.State() != StateRealtime {
			return
		}
		if err := e.FlushQueue("timer"); err != nil &&
			!errors.Is(err, ErrFlushInFlight) && !errors.Is(err, ErrAuthMissing) {
			e.logger.Warn("timer flush failed", log.Error(err))
		}
		e.Reconcile()
	}
}

// Reconcile pulls every document updated after the watermark and applies it
// through the same remote-apply path the channel uses. It corrects for
// missed realtime events.
func (e *SyncEngine) Reconcile() {
	if e.closed.Load() {
		return
	}

	token := e.deps.Tokens.Token()
	if token == "" {
		return
	}

	e.mu.Lock()
	since := e.lastCloudTS
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
	docs, err := e.deps.Transport.Pull(ctx, since, e.clientID, token)
	cancel()
	if err != nil {
		e.logger.Warn("reconcile pull failed", log.Error(err))
		e.audit("pull", err)
		if errors.Is(err, ErrUnauthorized) {
			e.Reauthorize()
		}
		return
	}

	for _, doc := range docs {
		e.applyRemote(sync.ChangeEvent{
			Key:               doc.Key,
			Value:             doc.Value,
			UpdatedByClientID: doc.UpdatedByClientID,
			UpdatedAt:         doc.UpdatedAt,
		})
	}

	e.mu.Lock()
	e.lastOKAt = time.Now().UTC()
	e.mu.Unlock()
}

// applyRemote applies one remote change to the local cache. Self-originated
// events are suppressed, and keys with an unflushed local write are skipped
// so the queued change is not clobbered.
func (e *SyncEngine) applyRemote(ev sync.ChangeEvent) {
	if ev.UpdatedByClientID == e.clientID {
		e.advanceWatermark(ev.UpdatedAt)
		return
	}
	if e.deps.Queue.IsQueued(ev.Key) {
		e.logger.Debug("remote apply skipped, local write pending",
			log.String("key", string(ev.Key)))
		return
	}

	value := append(json.RawMessage(nil), ev.Value...)

	e.mu.Lock()
	e.snapshots[ev.Key] = value
	e.fingerprints[ev.Key] = fingerprint(value, nil)
	if ev.UpdatedAt.After(e.lastCloudTS) {
		e.lastCloudTS = ev.UpdatedAt
	}
	e.mu.Unlock()

	if e.deps.LocalApply != nil {
		e.deps.LocalApply(ev.Key, value)
	}
	if e.deps.Bus != nil {
		_ = e.deps.Bus.Publish(bus.NewEvent(EventApplied, e.clientID, ev))
	}
}

func (e *SyncEngine) advanceWatermark(ts time.Time) {
	e.mu.Lock()
	if ts.After(e.lastCloudTS) {
		e.lastCloudTS = ts
	}
	e.mu.Unlock()
}

// setState records a transition and emits a status event.
func (e *SyncEngine) setState(state ConnState, detail string) {
	e.mu.Lock()
	changed := e.state != state
	e.state = state
	e.mu.Unlock()

	if changed {
		e.logger.Info("connection state changed",
			log.String("state", state.String()), log.String("detail", detail))
	}
	e.emitStatus(detail)
}

func (e *SyncEngine) emitStatus(detail string) {
	if e.deps.Bus == nil {
		return
	}
	e.mu.Lock()
	status := Status{
		Mode:     e.state.String(),
		Detail:   detail,
		LastOKAt: e.lastOKAt,
	}
	e.mu.Unlock()
	_ = e.deps.Bus.Publish(bus.NewEvent(EventStatus, e.clientID, status))
}

func (e *SyncEngine) audit(op string, err error) {
	if e.deps.Audit != nil && err != nil {
		go e.deps.Audit(op, err)
	}
}
