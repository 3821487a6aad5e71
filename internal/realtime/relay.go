package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/P2Wdisabled/Notus-sub000/internal/history"
	"go.uber.org/zap"
)

var errMissingRegistry = errors.New("realtime: registry is required")

// ContentRecorder absorbs content-bearing updates for deferred persistence.
type ContentRecorder interface {
	Record(ctx context.Context, update history.Update)
}

// RelayConfig describes the dependencies of a Relay.
type RelayConfig struct {
	Registry *Registry
	Recorder ContentRecorder
	Logger   *zap.Logger
}

// Relay is the stateless protocol dispatcher. It decodes inbound envelopes,
// fans content out to room peers, then hands content-bearing events to the
// recorder; persistence never delays a broadcast or fails an acknowledgment.
type Relay struct {
	registry *Registry
	recorder ContentRecorder
	logger   *zap.Logger
}

// NewRelay validates the configuration and returns a Relay.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		registry: cfg.Registry,
		recorder: cfg.Recorder,
		logger:   logger,
	}, nil
}

// HandleMessage dispatches one inbound frame from peer.
func (r *Relay) HandleMessage(ctx context.Context, peer Peer, raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		r.logger.Warn("discarding malformed frame", zap.String("peer", peer.ID()), zap.Error(err))
		return
	}

	switch envelope.Event {
	case EventJoinRoom:
		r.handleMembership(peer, envelope, true)
	case EventLeaveRoom:
		r.handleMembership(peer, envelope, false)
	case EventTextUpdate:
		r.handleContentUpdate(ctx, peer, envelope, false)
	case EventTextUpdateWithCursor:
		r.handleContentUpdate(ctx, peer, envelope, true)
	case EventTitleUpdate, EventDrawingData, EventCursorPosition:
		r.handleBroadcastOnly(peer, envelope)
	default:
		r.logger.Warn("discarding unknown event",
			zap.String("peer", peer.ID()),
			zap.String("event", envelope.Event))
		r.sendAck(peer, envelope.Ack, ackPayload{Error: "unknown event"})
	}
}

func (r *Relay) handleMembership(peer Peer, envelope Envelope, join bool) {
	var payload roomPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil || payload.Room == "" {
		r.logger.Warn("discarding membership event without room", zap.String("peer", peer.ID()))
		return
	}
	if join {
		r.registry.Join(peer, payload.Room, payload.ClientID)
		return
	}
	r.registry.Leave(peer, payload.Room, payload.ClientID)
}

func (r *Relay) handleContentUpdate(ctx context.Context, peer Peer, envelope Envelope, withCursor bool) {
	var payload contentPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		r.sendAck(peer, envelope.Ack, ackPayload{Error: "malformed payload"})
		return
	}
	roomKey := payload.Room
	if roomKey == "" {
		roomKey = payload.DocumentID
	}
	if roomKey == "" {
		r.sendAck(peer, envelope.Ack, ackPayload{Error: "missing room"})
		return
	}

	// Peers receive the payload verbatim, never the sender.
	r.broadcastRaw(EventTextUpdate, roomKey, peer, envelope.Data)
	if withCursor && len(payload.Cursor) > 0 {
		r.broadcastRaw(EventCursorPosition, roomKey, peer, payload.Cursor)
	}

	// The broadcast is complete; acknowledge now. The persistence outcome
	// never reaches this acknowledgment.
	r.sendAck(peer, envelope.Ack, ackPayload{OK: true})

	if r.recorder == nil {
		return
	}
	documentID := payload.DocumentID
	if documentID == "" {
		documentID = roomKey
	}
	update := history.Update{
		DocumentID: documentID,
		UserID:     fallback(payload.UserID, peer.UserID()),
		UserEmail:  fallback(payload.UserEmail, peer.UserEmail()),
		Title:      payload.Title,
		Tags:       payload.Tags,
		Snapshot:   payload.PersistSnapshot,
	}
	// Synchronous hand-off so a connection's updates reach the recorder in
	// the order they arrived; the delivery work above is already done.
	r.recorder.Record(ctx, update)
}

func (r *Relay) handleBroadcastOnly(peer Peer, envelope Envelope) {
	var payload broadcastPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil || payload.roomKey() == "" {
		r.logger.Warn("discarding broadcast event without room",
			zap.String("peer", peer.ID()),
			zap.String("event", envelope.Event))
		return
	}
	r.broadcastRaw(envelope.Event, payload.roomKey(), peer, envelope.Data)
}

func (r *Relay) broadcastRaw(event, roomKey string, sender Peer, data json.RawMessage) {
	message, err := encodeEnvelope(event, 0, data)
	if err != nil {
		r.logger.Error("broadcast encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	r.registry.Broadcast(roomKey, sender, message)
}

func (r *Relay) sendAck(peer Peer, ack int64, payload ackPayload) {
	if ack == 0 {
		return
	}
	message, err := encodeEnvelope(EventAck, ack, payload)
	if err != nil {
		r.logger.Error("ack encode failed", zap.Error(err))
		return
	}
	if !peer.Enqueue(message) {
		r.logger.Warn("dropping ack for slow peer", zap.String("peer", peer.ID()))
	}
}

func fallback(value, alternative string) string {
	if value != "" {
		return value
	}
	return alternative
}
