// Package hub is the presence-aware connection hub of the relay.
//
// It tracks which users are online, maps each user to exactly one live
// connection, and routes typing indicators, read receipts, new messages,
// reactions, group updates and presence changes to the right recipients.
//
// The pieces, leaves first:
//
//   - Registry: userId -> connection, at most one per user.
//   - Tracker: presence transitions derived from registry membership.
//   - Resolver: recipient sets from conversation/group membership.
//   - Router: best-effort, non-blocking fan-out through the registry.
//   - Session: the per-connection state machine (Pending -> Active -> Closed).
//
// Hub wires them together and is constructed once by the process; nothing in
// this package is global.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/store"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

const userListTimeout = 2 * time.Second

// Options are the presence policies of a Hub.
type Options struct {
	// CloseSuperseded closes a user's previous connection when the user
	// authenticates on a new one. The default leaves it open; it simply stops
	// receiving events.
	CloseSuperseded bool
	// BroadcastUserList sends a fresh userList to every connection after each
	// presence transition, in addition to the userStatus delta.
	BroadcastUserList bool
}

// Deps are the collaborators of a Hub. Users, Presence and Metrics may be nil.
type Deps struct {
	Directory Directory
	Users     store.UserLookup
	Presence  store.PresenceWriter
	Logger    zerolog.Logger
	Metrics   *telemetry.Metrics
}

// Hub owns the registry and everything that reads or mutates it.
type Hub struct {
	registry *Registry
	presence *Tracker
	resolver *Resolver
	router   *Router
	users    store.UserLookup
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	opts     Options

	// transitionMu orders registry mutations with the presence broadcasts
	// they cause, so every client sees a user's transitions in order.
	transitionMu sync.Mutex
}

// New builds a Hub.
func New(deps Deps, opts Options) *Hub {
	logger := deps.Logger.With().Str("component", "Hub").Logger()
	registry := NewRegistry()

	h := &Hub{
		registry: registry,
		presence: NewTracker(registry, deps.Presence, deps.Logger, deps.Metrics),
		resolver: NewResolver(deps.Directory),
		users:    deps.Users,
		logger:   logger,
		metrics:  deps.Metrics,
		opts:     opts,
	}
	h.router = NewRouter(registry, deps.Logger, deps.Metrics, h.handleDeliveryFailure)
	return h
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Presence exposes the presence tracker, mainly for Subscribe.
func (h *Hub) Presence() *Tracker { return h.presence }

// Status returns the presence of userID.
func (h *Hub) Status(userID string) store.PresenceRecord {
	return h.presence.Status(userID)
}

// OnlineCount returns the number of users with a live connection.
func (h *Hub) OnlineCount() int { return h.registry.Len() }

// activate registers conn for userID and performs the presence side effects.
func (h *Hub) activate(ctx context.Context, conn Conn, userID string) {
	h.transitionMu.Lock()
	defer h.transitionMu.Unlock()

	prev := h.registry.Register(userID, conn)
	if prev == nil {
		h.metrics.ConnectionDelta(ctx, 1)
		h.presence.MarkOnline(ctx, userID)
		h.broadcastPresence(ctx, userID, userID)
	} else {
		h.logger.Info().Str("user", userID).Str("conn", conn.ID()).Str("superseded", prev.ID()).Msg("Connection superseded.")
		if h.opts.CloseSuperseded {
			prev.Close()
		}
	}

	h.sendUserList(ctx, conn, userID)
}

// release deregisters conn. Only if conn was still the user's current
// connection does the user go offline.
func (h *Hub) release(ctx context.Context, conn Conn) {
	h.transitionMu.Lock()
	defer h.transitionMu.Unlock()

	userID, ok := h.registry.Deregister(conn)
	if !ok {
		return
	}
	h.metrics.ConnectionDelta(ctx, -1)
	h.presence.MarkOffline(ctx, userID)
	h.broadcastPresence(ctx, userID, "")
}

// handleDeliveryFailure treats a failed write as a disconnect of that handle.
// Cleanup runs on its own goroutine because the failure is reported from
// inside a fan-out that may hold transitionMu.
func (h *Hub) handleDeliveryFailure(_ context.Context, conn Conn, err error) {
	h.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("Dropping connection after failed delivery.")
	conn.Close()
	go h.release(context.Background(), conn)
}

func (h *Hub) broadcastPresence(ctx context.Context, userID, exclude string) {
	status := h.presence.Status(userID)
	payload, err := protocol.Encode(protocol.TypeUserStatus, protocol.UserStatus{
		UserID:     userID,
		IsOnline:   status.IsOnline,
		LastSeenAt: status.LastSeenAt,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode userStatus.")
		return
	}
	h.router.BroadcastAll(ctx, protocol.TypeUserStatus, payload, exclude)

	if !h.opts.BroadcastUserList {
		return
	}
	list, err := h.userListPayload(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode userList.")
		return
	}
	h.router.BroadcastAll(ctx, protocol.TypeUserList, list, exclude)
}

func (h *Hub) sendUserList(ctx context.Context, conn Conn, userID string) {
	list, err := h.userListPayload(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode userList.")
		return
	}
	_ = h.router.Unicast(ctx, conn, userID, protocol.TypeUserList, list)
}

// userListPayload snapshots the online users, hydrating profiles from the
// user collaborator when one is configured. A failed hydration still yields
// a list of bare ids.
func (h *Hub) userListPayload(ctx context.Context) ([]byte, error) {
	ids := h.registry.SnapshotUserIDs()

	profiles := make(map[string]store.User, len(ids))
	if h.users != nil && len(ids) > 0 {
		lookupCtx, cancel := context.WithTimeout(ctx, userListTimeout)
		users, err := h.users.GetUsersByIDs(lookupCtx, ids)
		cancel()
		if err != nil {
			h.logger.Error().Err(err).Int("users", len(ids)).Msg("Failed to hydrate user list.")
		}
		for _, u := range users {
			profiles[u.ID] = u
		}
	}

	entries := make([]protocol.UserEntry, 0, len(ids))
	for _, id := range ids {
		status := h.presence.Status(id)
		entry := protocol.UserEntry{ID: id, IsOnline: status.IsOnline}
		if !status.LastSeenAt.IsZero() {
			seen := status.LastSeenAt
			entry.LastSeenAt = &seen
		}
		if u, ok := profiles[id]; ok {
			entry.Username = u.Username
			entry.DisplayName = u.DisplayName
			entry.AvatarURL = u.AvatarURL
		}
		entries = append(entries, entry)
	}
	return protocol.Encode(protocol.TypeUserList, protocol.UserList{Users: entries})
}
