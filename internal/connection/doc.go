// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single Socket.IO channel to the relief server (WebSocket transport)
//   - Deduplicates concurrent Connect calls into one attempt
//   - Registers the user identity on every successful connect
//   - Reconnects with exponential backoff after unexpected drops, immediately
//     when the server closes the session
//   - Forwards inbound events to the Event Router in arrival order
package connection
