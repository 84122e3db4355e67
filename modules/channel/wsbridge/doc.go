// Package wsbridge implements a WebSocket bridge channel for chatpilot.
//
// External client adapters (one per chat platform the operator bridges)
// connect to the server over a WebSocket, authenticate with a shared
// token, and exchange JSON envelopes: inbound "message" events flow into
// the request pipeline, and "reply" envelopes carry the assistant's
// answer back to the adapter that delivered the originating chat.
//
// Outbound replies are chunked via channel.SplitText and optionally
// delayed by a randomized typing pause before delivery.
//
// The module registers itself as "channel.wsbridge" via init() and
// exposes its WebSocket endpoint as an http.HandlerFunc service for the
// gateway to mount.
package wsbridge
