// Package simplesocket provides a high-level client for realtime
// state-synchronizing WebSocket servers. A Client owns one logical
// connection: it tracks connect/disconnect/reconnect bookkeeping,
// applies full or partial application state pushed by the server
// (optionally gated by a validator), records failures in a single
// typed error slot, and exposes an emit/subscribe bridge for free-form
// application events.
package simplesocket
