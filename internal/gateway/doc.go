// Package gateway wires the messaging server together.
//
// A Gateway owns the document store, the conversation store and service,
// the room broadcaster, the websocket hub and the HTTP router. New builds
// the whole graph from a config.Config; Run serves until the context is
// canceled and then shuts the components down in dependency order.
package gateway
