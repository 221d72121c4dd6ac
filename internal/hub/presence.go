package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/store"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

const (
	subscriberBuffer = 64
	// maxOfflineRecords bounds the offline records kept in memory. The
	// oldest are evicted first; their transitions were already persisted.
	maxOfflineRecords = 10000
)

// PresenceChange is published to subscribers on every transition.
type PresenceChange struct {
	UserID     string    `json:"userId"`
	IsOnline   bool      `json:"isOnline"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Tracker records presence transitions. Whether a user is online is always
// answered by the registry; the tracker only owns the transition timestamps
// and their persistence.
type Tracker struct {
	registry *Registry
	writer   store.PresenceWriter
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time

	mu           sync.RWMutex
	records      map[string]store.PresenceRecord
	offline      []offlineEntry
	offlineCount int
	offlineLimit int

	subMu  sync.Mutex
	subs   map[uint64]chan PresenceChange
	nextID uint64
}

// offlineEntry queues an offline record for eviction. It is stale once the
// user's record carries a different timestamp.
type offlineEntry struct {
	userID string
	stamp  time.Time
}

// NewTracker builds a tracker over registry. writer may be nil.
func NewTracker(registry *Registry, writer store.PresenceWriter, logger zerolog.Logger, metrics *telemetry.Metrics) *Tracker {
	return &Tracker{
		registry:     registry,
		writer:       writer,
		logger:       logger.With().Str("component", "PresenceTracker").Logger(),
		metrics:      metrics,
		now:          time.Now,
		records:      make(map[string]store.PresenceRecord),
		offlineLimit: maxOfflineRecords,
		subs:         make(map[uint64]chan PresenceChange),
	}
}

// MarkOnline records an online transition for userID and returns the record
// it replaced.
func (t *Tracker) MarkOnline(ctx context.Context, userID string) store.PresenceRecord {
	return t.transition(ctx, userID, true)
}

// MarkOffline records an offline transition for userID and returns the
// record it replaced.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) store.PresenceRecord {
	return t.transition(ctx, userID, false)
}

func (t *Tracker) transition(ctx context.Context, userID string, online bool) store.PresenceRecord {
	t.mu.Lock()
	prior, had := t.records[userID]
	stamp := t.now().UTC()
	if !stamp.After(prior.LastSeenAt) {
		stamp = prior.LastSeenAt.Add(time.Millisecond)
	}
	rec := store.PresenceRecord{UserID: userID, IsOnline: online, LastSeenAt: stamp}
	t.records[userID] = rec
	if had && !prior.IsOnline {
		t.offlineCount--
	}
	if !online {
		t.offlineCount++
		t.offline = append(t.offline, offlineEntry{userID: userID, stamp: stamp})
		t.evictOffline()
	}
	t.mu.Unlock()

	if t.writer != nil {
		if err := t.writer.UpdatePresence(ctx, rec); err != nil {
			t.logger.Error().Err(err).Str("user", userID).Bool("online", online).Msg("Failed to persist presence.")
		}
	}
	t.metrics.PresenceTransition(ctx, online)
	t.logger.Info().Str("user", userID).Bool("online", online).Msg("Presence changed.")

	t.publish(PresenceChange{UserID: userID, IsOnline: online, LastSeenAt: stamp})
	return prior
}

// evictOffline drops the oldest offline records beyond offlineLimit. Callers
// hold t.mu.
func (t *Tracker) evictOffline() {
	for t.offlineCount > t.offlineLimit && len(t.offline) > 0 {
		e := t.offline[0]
		t.offline = t.offline[1:]
		if t.isLiveOffline(e) {
			delete(t.records, e.userID)
			t.offlineCount--
		}
	}
	if len(t.offline) > 2*t.offlineLimit+16 {
		live := make([]offlineEntry, 0, t.offlineCount)
		for _, e := range t.offline {
			if t.isLiveOffline(e) {
				live = append(live, e)
			}
		}
		t.offline = live
	}
}

func (t *Tracker) isLiveOffline(e offlineEntry) bool {
	rec, ok := t.records[e.userID]
	return ok && !rec.IsOnline && rec.LastSeenAt.Equal(e.stamp)
}

// Status returns the current presence of userID. IsOnline comes from the
// registry; LastSeenAt is the time of the last recorded transition.
func (t *Tracker) Status(userID string) store.PresenceRecord {
	t.mu.RLock()
	rec := t.records[userID]
	t.mu.RUnlock()
	rec.UserID = userID
	rec.IsOnline = t.registry.Contains(userID)
	return rec
}

// Subscribe returns a channel of presence changes. The subscription ends and
// the channel is closed when ctx is done. A subscriber that falls behind
// misses changes rather than stalling the tracker.
func (t *Tracker) Subscribe(ctx context.Context) <-chan PresenceChange {
	ch := make(chan PresenceChange, subscriberBuffer)

	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.subMu.Unlock()

	go func() {
		<-ctx.Done()
		t.subMu.Lock()
		delete(t.subs, id)
		close(ch)
		t.subMu.Unlock()
	}()
	return ch
}

func (t *Tracker) publish(change PresenceChange) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for id, ch := range t.subs {
		select {
		case ch <- change:
		default:
			t.logger.Warn().Uint64("subscriber", id).Str("user", change.UserID).Msg("Presence subscriber is full; dropping change.")
		}
	}
}
