// Package blackboard is the per-swarm broadcast message log: durable
// rows in the store, live fan-out over the bus to WebSocket subscribers
// of topic "blackboard:<swarmId>".
package blackboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/bus"
	"github.com/fleetworks/fleetd/internal/store"
	"github.com/fleetworks/fleetd/pkg/protocol"
)

// Payloads are opaque JSON; the core only copies them and enforces this cap.
const maxPayloadBytes = 64 * 1024

// Board coordinates durable posts with live fan-out.
type Board struct {
	stores *store.Stores
	bus    *bus.Bus
	log    *slog.Logger
}

func New(stores *store.Stores, b *bus.Bus, log *slog.Logger) *Board {
	return &Board{stores: stores, bus: b, log: log}
}

// Topic names the fan-out topic for one swarm.
func Topic(swarmID uuid.UUID) string {
	return protocol.TopicBlackboardPrefix + swarmID.String()
}

// Post validates, persists, and fans out one message. Targeted messages
// still broadcast on the swarm topic; the gateway narrows delivery to the
// target's sockets.
func (b *Board) Post(ctx context.Context, m *store.BlackboardMessage) error {
	if !store.ValidBlackboardType(m.MessageType) {
		return fmt.Errorf("invalid message type %q", m.MessageType)
	}
	if !store.ValidPriority(m.Priority) {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	if len(m.Payload) > maxPayloadBytes {
		return fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes)
	}
	if err := b.stores.Blackboard.PostBlackboard(ctx, m); err != nil {
		return err
	}
	b.bus.PublishJSON(Topic(m.SwarmID), protocol.EventBlackboardPost, m)
	return nil
}

// Read returns messages matching the filter, newest first.
func (b *Board) Read(ctx context.Context, f store.BlackboardFilter) ([]store.BlackboardMessage, error) {
	if f.UnreadOnly && f.ReaderHandle == "" {
		return nil, fmt.Errorf("unreadOnly requires readerHandle")
	}
	return b.stores.Blackboard.ReadBlackboard(ctx, f)
}

// MarkRead is idempotent per (message, reader); returns newly marked count.
func (b *Board) MarkRead(ctx context.Context, ids []uuid.UUID, reader string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > 1000 {
		return 0, fmt.Errorf("at most 1000 ids per call")
	}
	return b.stores.Blackboard.MarkBlackboardRead(ctx, ids, reader)
}

// Archive removes messages from unread reads while preserving them for
// audit.
func (b *Board) Archive(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) > 1000 {
		return 0, fmt.Errorf("at most 1000 ids per call")
	}
	return b.stores.Blackboard.ArchiveBlackboard(ctx, ids)
}

// ArchiveOlderThan archives everything older than ageMs, returning the
// count archived.
func (b *Board) ArchiveOlderThan(ctx context.Context, ageMs int64) (int, error) {
	if ageMs <= 0 {
		return 0, fmt.Errorf("age must be positive")
	}
	return b.stores.Blackboard.ArchiveBlackboardOlderThan(ctx, ageMs)
}

// UnreadCount reports unread, unarchived, unexpired messages for reader.
// Messages posted before the reader joined the swarm do not count.
func (b *Board) UnreadCount(ctx context.Context, swarmID uuid.UUID, reader string) (int, error) {
	return b.stores.Blackboard.UnreadBlackboardCount(ctx, swarmID, reader)
}
