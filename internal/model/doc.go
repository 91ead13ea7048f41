// Package model defines the payloads exchanged over the real-time channel.
//
// All types are pass-through DTOs: the client decodes and encodes them but
// never validates their content beyond JSON shape.
//
// Conventions:
//   - JSON field names follow the server's camelCase wire contract
//   - Timestamps: Timestamp, accepting RFC 3339 strings or epoch milliseconds
//   - Coordinates: WGS84 decimal degrees, accuracy in meters
package model
