// Package chat implements the real-time direct-messaging core.
//
// # Overview
//
// The package sits between the transport layers (websocket hub, HTTP API)
// and the document store, providing conversation storage, the per-message
// delivery-state machine, presence tracking and event fan-out.
//
// # Components
//
//   - Store: durable mapping from an unordered pair of identities to an
//     ordered message log. Every mutation is a serialized read-modify-write
//     cycle over the persisted collection.
//   - PresenceRegistry: connection-counted set of online identities.
//   - Broadcaster / RoomBroadcaster: room-based pub/sub decoupled from any
//     transport. One room per identity for personal notifications.
//   - Service: coordinates the three. All delivery-state transitions flow
//     through it.
//
// # Delivery state machine
//
// Per (message, recipient): NotDelivered -> Delivered -> Read, terminal.
//
//  1. Append: if the recipient is present, the message is persisted already
//     marked delivered and message_delivered goes to the sender's room.
//  2. Recipient reconnect: Service.Connect runs one reconciliation pass
//     marking everything from each counterpart delivered, one persisted
//     batch, one messages_delivered event per counterpart.
//  3. Conversation open or explicit mark_read: unread messages are marked
//     read in one batch and one messages_read event goes to the sender.
//
// The derived status shown to a sender (sent/delivered/read) is computed
// from the sets, never stored.
//
// # Ordering and atomicity
//
// Events for a single message are causally ordered per recipient: created,
// then delivered, then read. Broadcasts happen strictly after the mutation
// is durably committed; a failed save emits nothing. Publishes never block:
// subscriber channels are buffered and slow subscribers drop events, which
// the next reconciliation pass repairs.
package chat
