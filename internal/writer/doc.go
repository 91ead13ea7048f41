// Package writer persists inbound channel events.
//
// EventWriter drains the Event Router feed into the channel_events table
// in batches, flushing when a batch fills or the flush interval elapses.
// Rows are append-only.
package writer
