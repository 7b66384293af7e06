package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yuxdigital/activitytrack/sdk/go/internal/storage"
	"github.com/yuxdigital/activitytrack/sdk/go/internal/transport"
)

// flushGrace is how long TrackImmediate waits for the triggered flush to
// complete before returning and letting delivery finish in the background.
const flushGrace = 150 * time.Millisecond

// sessionIDKey is the persisted-state key for the session identifier.
const sessionIDKey = "session_id"

// Status is a snapshot of the tracker's delivery state.
type Status struct {
	// SessionID is the active session identifier (empty before Start).
	SessionID string

	// Online reports whether the tracker currently attempts network delivery.
	Online bool

	// Queued is the number of events in the in-memory send queue.
	Queued int

	// Offline is the number of events in the durable offline store.
	Offline int
}

// Agent collects events and delivers them to the tracking server in
// batches. Batches are sent when the queue reaches the configured size or
// on the send interval, whichever comes first. While offline, events go to
// the durable store (when enabled) and are replayed after reconnection.
//
// Delivery is at-least-once: a batch that fails mid-send may be delivered
// again after recovery, and consumers must tolerate duplicates.
type Agent struct {
	cfg    Config
	client *transport.Client
	logger *slog.Logger

	db      *storage.DB
	offline *storage.OfflineLog
	kv      *storage.KV

	mu        sync.Mutex
	queue     sendQueue
	sessionID string
	online    bool
	started   bool
	closed    bool

	onEvent func(Event)
	onError func(error)

	flushCh  chan struct{}   // count-based flush trigger
	forceCh  chan chan error // synchronous flush request with reply
	onlineCh chan struct{}   // reconnection signal
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a tracker from the given configuration. When OfflineStorage
// is enabled the sqlite store at StoragePath is opened (and created)
// immediately so storage failures surface here rather than mid-delivery.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	a := &Agent{
		cfg:    cfg,
		logger: slog.Default().With("component", "tracker"),
		online: true,
		client: transport.NewClient(cfg.ServerURL, cfg.Timeout, &transport.ExponentialBackoff{
			BaseDelay:  cfg.RetryDelay,
			MaxDelay:   30 * time.Second,
			MaxRetries: cfg.MaxRetries,
			Jitter:     0.2,
		}),
		flushCh:  make(chan struct{}, 1),
		forceCh:  make(chan chan error),
		onlineCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	if cfg.OfflineStorage {
		db, err := storage.Open(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("open offline storage: %w", err)
		}
		a.db = db
		a.offline = storage.NewOfflineLog(db, cfg.MaxOfflineEvents)
		a.kv = storage.NewKV(db)
	}

	return a, nil
}

// Start resolves the session identity, registers it with the server, and
// starts the delivery loop. If registration fails within SessionInitTimeout
// the tracker starts in offline mode instead of returning an error; events
// accumulate locally until SetOnline(true) or a later successful send.
// Previously stored offline events are loaded into the send queue.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	sessionID, err := a.resolveSessionID()
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.sessionID = sessionID
	a.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, a.cfg.SessionInitTimeout)
	defer cancel()

	result, err := a.client.InitSession(initCtx, sessionID, a.cfg.ExperimentID)
	if err != nil {
		a.logger.Warn("session registration failed, starting offline",
			"session_id", sessionID,
			"error", err)
		a.mu.Lock()
		a.online = false
		a.mu.Unlock()
	} else {
		a.logger.Info("session registered",
			"session_id", result.SessionID,
			"existing", result.Exists)
	}

	a.recoverOffline()

	a.mu.Lock()
	pending := a.queue.Len() > 0
	a.mu.Unlock()
	if pending {
		select {
		case a.flushCh <- struct{}{}:
		default:
		}
	}

	go a.run()
	return nil
}

// resolveSessionID returns the configured session ID, the persisted one
// from a previous run, or a newly generated identifier (persisted when
// storage is available).
func (a *Agent) resolveSessionID() (string, error) {
	if a.cfg.SessionID != "" {
		return a.cfg.SessionID, nil
	}

	if a.kv != nil {
		stored, err := a.kv.Get(sessionIDKey)
		if err != nil {
			return "", fmt.Errorf("load session id: %w", err)
		}
		if stored != "" {
			return stored, nil
		}
	}

	id := generateSessionID()
	if a.kv != nil {
		if err := a.kv.Set(sessionIDKey, id); err != nil {
			return "", fmt.Errorf("persist session id: %w", err)
		}
	}
	return id, nil
}

// generateSessionID builds an identifier with an embedded start time, e.g.
// "session_1712345678901_1a2b3c4d".
func generateSessionID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), suffix)
}

// Track records an event for batched delivery. The occurrence timestamp is
// stamped if unset. While online the event joins the send queue; a full
// batch triggers an asynchronous flush. While offline the event goes
// straight to the durable store, or stays queued in memory when offline
// storage is disabled. Track never blocks on network I/O.
func (a *Agent) Track(event Event) error {
	event = event.withDefaults()

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	online := a.online
	spill := !online && a.offline != nil
	if !spill {
		a.queue.Append(raw)
	}
	shouldFlush := online && a.queue.Len() >= a.cfg.BatchSize
	cb := a.onEvent
	a.mu.Unlock()

	if spill {
		if err := a.offline.Append([]string{string(raw)}); err != nil {
			return fmt.Errorf("store offline event: %w", err)
		}
	}

	if shouldFlush {
		select {
		case a.flushCh <- struct{}{}:
		default:
			// flush already pending
		}
	}

	if cb != nil {
		go cb(event)
	}
	return nil
}

// TrackImmediate records an event and triggers a flush right away, without
// waiting for the batch size or send interval. It waits briefly for the
// flush to complete; if delivery takes longer it returns nil and the send
// finishes in the background.
func (a *Agent) TrackImmediate(event Event) error {
	if err := a.Track(event); err != nil {
		return err
	}

	reply := make(chan error, 1)
	grace := time.NewTimer(flushGrace)
	defer grace.Stop()

	select {
	case a.forceCh <- reply:
	case <-grace.C:
		return nil
	case <-a.stopCh:
		return nil
	}

	select {
	case err := <-reply:
		return err
	case <-grace.C:
		return nil
	}
}

// SetOnline tells the tracker whether the network is reachable. Going
// online replays the durable store into the send queue and triggers a
// flush; going offline stops delivery attempts so new events accumulate
// locally.
func (a *Agent) SetOnline(online bool) {
	a.mu.Lock()
	changed := a.online != online
	a.online = online
	a.mu.Unlock()

	if !changed {
		return
	}

	if online {
		select {
		case a.onlineCh <- struct{}{}:
		default:
		}
		a.logger.Info("network restored")
	} else {
		a.logger.Info("network lost, buffering locally")
	}
}

// OnEvent registers a callback invoked after each accepted Track call.
// The callback runs on its own goroutine.
func (a *Agent) OnEvent(fn func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onEvent = fn
}

// OnError registers a callback for delivery failures. The callback runs
// on its own goroutine.
func (a *Agent) OnError(fn func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onError = fn
}

// Status returns a snapshot of the tracker state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Status{
		SessionID: a.sessionID,
		Online:    a.online,
		Queued:    a.queue.Len(),
	}
	if a.offline != nil {
		if n, err := a.offline.Count(); err == nil {
			s.Offline = n
		}
	}
	return s
}

// Close stops the delivery loop, attempts a final flush of queued events
// bounded by the request timeout, and closes the offline store. While
// offline the final flush persists the queue instead of sending it.
// Close is idempotent.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	started := a.started
	a.mu.Unlock()

	if started {
		close(a.stopCh)
		<-a.doneCh
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("close offline storage: %w", err)
		}
	}
	return nil
}

// run is the delivery loop. All flushes happen here, so at most one batch
// is in flight at any time and retries never interleave.
func (a *Agent) run() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.cfg.SendInterval)
	defer ticker.Stop()

	ctx := context.Background()

	for {
		select {
		case <-ticker.C:
			a.flushAll(ctx)

		case <-a.flushCh:
			a.flushAll(ctx)

		case reply := <-a.forceCh:
			reply <- a.flushAll(ctx)

		case <-a.onlineCh:
			a.recoverOffline()
			a.flushAll(ctx)

		case <-a.stopCh:
			// Final flush independent of any caller context.
			finalCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
			a.flushAll(finalCtx)
			cancel()
			return
		}
	}
}

// flushAll drains the queue batch by batch until it is empty or a send
// fails. Returns the first send error.
func (a *Agent) flushAll(ctx context.Context) error {
	for {
		n, err := a.flushOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// flushOnce handles one batch and reports how many events it moved. While
// offline the whole queue is persisted to the durable store instead of
// being sent.
func (a *Agent) flushOnce(ctx context.Context) (int, error) {
	a.mu.Lock()
	online := a.online
	sessionID := a.sessionID
	var batch []json.RawMessage
	if online {
		batch = a.queue.DrainBatch(a.cfg.BatchSize)
	} else if a.offline != nil {
		batch = a.queue.DrainBatch(a.queue.Len())
	}
	a.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	if !online {
		if err := a.spill(batch); err != nil {
			a.requeue(batch)
			a.reportError(err)
			return 0, err
		}
		return len(batch), nil
	}

	result, err := a.client.SendBatch(ctx, sessionID, batch)
	if err != nil {
		if errors.Is(err, transport.ErrSessionNotFound) {
			a.reinitSession(ctx)
		}
		// The failed batch returns whole to the queue head, ahead of any
		// newer events, and a durable copy is appended so a crash before
		// the retry loses nothing. The copy may replay after a restart;
		// delivery is at-least-once.
		a.requeue(batch)
		if a.offline != nil {
			if spillErr := a.spill(batch); spillErr != nil {
				a.reportError(spillErr)
			}
		}
		sendErr := fmt.Errorf("send batch: %w", err)
		a.reportError(sendErr)
		return 0, sendErr
	}

	if len(result.Errors) > 0 {
		a.logger.Warn("server rejected events in batch",
			"rejected", len(result.Errors),
			"inserted", result.Inserted,
			"total", result.Total)
	}
	return len(batch), nil
}

// reinitSession re-registers the session after the server reported it
// unknown, e.g. following a server-side expiry or restart.
func (a *Agent) reinitSession(ctx context.Context) {
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, a.cfg.SessionInitTimeout)
	defer cancel()

	if _, err := a.client.InitSession(initCtx, sessionID, a.cfg.ExperimentID); err != nil {
		a.logger.Warn("session re-registration failed",
			"session_id", sessionID,
			"error", err)
		return
	}
	a.logger.Info("session re-registered", "session_id", sessionID)
}

// recoverOffline moves everything in the durable store to the head of the
// send queue, preserving stored order ahead of newer events.
func (a *Agent) recoverOffline() {
	if a.offline == nil {
		return
	}

	stored, err := a.offline.DrainAll()
	if err != nil {
		a.reportError(fmt.Errorf("drain offline store: %w", err))
		return
	}
	if len(stored) == 0 {
		return
	}

	batch := make([]json.RawMessage, len(stored))
	for i, s := range stored {
		batch[i] = json.RawMessage(s)
	}
	a.requeue(batch)

	a.logger.Info("recovered offline events", "count", len(batch))
}

// spill persists a batch to the durable offline store.
func (a *Agent) spill(batch []json.RawMessage) error {
	events := make([]string, len(batch))
	for i, raw := range batch {
		events[i] = string(raw)
	}
	if err := a.offline.Append(events); err != nil {
		return fmt.Errorf("store offline batch: %w", err)
	}
	return nil
}

// requeue puts a batch back at the head of the queue.
func (a *Agent) requeue(batch []json.RawMessage) {
	a.mu.Lock()
	a.queue.PrependBatch(batch)
	a.mu.Unlock()
}

// reportError dispatches a failure to the registered callback.
func (a *Agent) reportError(err error) {
	a.mu.Lock()
	cb := a.onError
	a.mu.Unlock()

	if cb != nil {
		go cb(err)
	}
}
