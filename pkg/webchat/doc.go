// Package webchat serves the chat room over websockets.
//
// Ownership model:
//   - A Supervisor owns the live Sessions and is the broadcaster's recipient set.
//   - Each Session owns one connection: a read loop that decodes typed events,
//     a writer goroutine draining a bounded outbox, and a presence ticker.
//   - Server owns the HTTP lifecycle; NewRouter mounts /ws, the account API,
//     /healthz and /metrics.
package webchat
