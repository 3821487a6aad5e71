package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// Peer is one live client channel as seen by the registry and relay.
type Peer interface {
	// ID is the connection-local identifier, used as the presence fallback
	// when no client identifier was supplied.
	ID() string
	// UserID and UserEmail carry the identity established at the handshake.
	UserID() string
	UserEmail() string
	// Enqueue hands a marshaled envelope to the peer's outbound queue. It
	// never blocks; false means the peer is too slow to keep up.
	Enqueue(message []byte) bool
}

// RegistryConfig describes the dependencies of a Registry.
type RegistryConfig struct {
	Logger *zap.Logger
}

// Registry tracks which peers belong to which rooms and which external
// client identifier each membership was registered under. Rooms are created
// implicitly on first join and garbage-collected when their last member
// leaves.
type Registry struct {
	logger *zap.Logger

	mu      sync.Mutex
	rooms   map[string]map[Peer]struct{}
	members map[Peer]map[string]string
}

// NewRegistry returns an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		rooms:   make(map[string]map[Peer]struct{}),
		members: make(map[Peer]map[string]string),
	}
}

// Join adds peer to the room, records the supplied client identifier for the
// membership, and announces the arrival to every other current member.
func (r *Registry) Join(peer Peer, roomKey, clientID string) {
	if peer == nil || roomKey == "" {
		return
	}

	r.mu.Lock()
	room, ok := r.rooms[roomKey]
	if !ok {
		room = make(map[Peer]struct{})
		r.rooms[roomKey] = room
	}
	room[peer] = struct{}{}

	memberships, ok := r.members[peer]
	if !ok {
		memberships = make(map[string]string)
		r.members[peer] = memberships
	}
	memberships[roomKey] = clientID

	others := r.peersExcept(room, peer)
	r.mu.Unlock()

	identifier := clientID
	if identifier == "" {
		identifier = peer.ID()
	}
	r.logger.Debug("peer joined room",
		zap.String("room", roomKey),
		zap.String("client_id", identifier))
	r.emitPresence(EventUserJoined, identifier, others)
}

// Leave removes the peer's membership and announces the departure. The
// identifier announced is, in priority order: the clientID supplied to
// Leave, the one recorded at join time, the connection-local identifier.
// Leaving a room the peer never joined is a no-op.
func (r *Registry) Leave(peer Peer, roomKey, clientID string) {
	if peer == nil || roomKey == "" {
		return
	}

	r.mu.Lock()
	if _, joined := r.rooms[roomKey][peer]; !joined {
		r.mu.Unlock()
		return
	}
	stored := ""
	if memberships, ok := r.members[peer]; ok {
		stored = memberships[roomKey]
		delete(memberships, roomKey)
		if len(memberships) == 0 {
			delete(r.members, peer)
		}
	}
	remaining := r.removeFromRoom(roomKey, peer)
	r.mu.Unlock()

	identifier := clientID
	if identifier == "" {
		identifier = stored
	}
	if identifier == "" {
		identifier = peer.ID()
	}
	r.logger.Debug("peer left room",
		zap.String("room", roomKey),
		zap.String("client_id", identifier))
	r.emitPresence(EventUserLeft, identifier, remaining)
}

// Disconnect removes the peer from every room it is still joined to,
// announcing one departure per room, then clears all state for the peer.
// Peers of an ungraceful disconnect are therefore notified exactly once per
// joined room.
func (r *Registry) Disconnect(peer Peer) {
	if peer == nil {
		return
	}

	r.mu.Lock()
	memberships := r.members[peer]
	delete(r.members, peer)
	type departure struct {
		identifier string
		remaining  []Peer
	}
	departures := make([]departure, 0, len(memberships))
	for roomKey, clientID := range memberships {
		identifier := clientID
		if identifier == "" {
			identifier = peer.ID()
		}
		departures = append(departures, departure{
			identifier: identifier,
			remaining:  r.removeFromRoom(roomKey, peer),
		})
	}
	r.mu.Unlock()

	for _, d := range departures {
		r.emitPresence(EventUserLeft, d.identifier, d.remaining)
	}
}

// Broadcast delivers a marshaled envelope to every member of the room except
// sender. Delivery order matches call order; slow peers are skipped, never
// waited on.
func (r *Registry) Broadcast(roomKey string, sender Peer, message []byte) {
	r.mu.Lock()
	recipients := r.peersExcept(r.rooms[roomKey], sender)
	r.mu.Unlock()

	for _, recipient := range recipients {
		if !recipient.Enqueue(message) {
			r.logger.Warn("dropping broadcast for slow peer",
				zap.String("room", roomKey),
				zap.String("peer", recipient.ID()))
		}
	}
}

// RoomSize reports the current member count of a room.
func (r *Registry) RoomSize(roomKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomKey])
}

// removeFromRoom drops peer from the room and returns the remaining members.
// Callers must hold r.mu.
func (r *Registry) removeFromRoom(roomKey string, peer Peer) []Peer {
	room, ok := r.rooms[roomKey]
	if !ok {
		return nil
	}
	delete(room, peer)
	if len(room) == 0 {
		delete(r.rooms, roomKey)
		return nil
	}
	return r.peersExcept(room, nil)
}

// peersExcept snapshots a room's members, skipping excluded. Callers must
// hold r.mu.
func (r *Registry) peersExcept(room map[Peer]struct{}, excluded Peer) []Peer {
	if len(room) == 0 {
		return nil
	}
	peers := make([]Peer, 0, len(room))
	for member := range room {
		if excluded != nil && member == excluded {
			continue
		}
		peers = append(peers, member)
	}
	return peers
}

func (r *Registry) emitPresence(event, clientID string, recipients []Peer) {
	if len(recipients) == 0 {
		return
	}
	message, err := encodeEnvelope(event, 0, presencePayload{ClientID: clientID})
	if err != nil {
		r.logger.Error("presence encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	for _, recipient := range recipients {
		if !recipient.Enqueue(message) {
			r.logger.Warn("dropping presence event for slow peer",
				zap.String("event", event),
				zap.String("peer", recipient.ID()))
		}
	}
}
