// Package api implements the HTTP control API of the correo daemon.
//
// REST endpoints under /api/v1 list saved connections and drive their
// sessions: connect, disconnect, subscribe, unsubscribe and publish. The
// subscribe and publish history of a connection is served from the history
// store.
//
// # Events
//
// Bus events are relayed to clients in two ways. WebSocket clients on
// /api/v1/ws subscribe to channels such as "message.received", optionally
// scoped to one connection as "message.received:<id>". Server-sent event
// streams on /api/v1/connections/{id}/events carry the events of a single
// connection, with the channel as the event name.
//
// # Security
//
// When security.jwt.secret is set every route except /health requires a
// bearer token issued by "correo token". Browser clients that cannot set
// headers pass it as the access_token query parameter.
package api
