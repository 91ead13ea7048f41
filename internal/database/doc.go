// Package database opens the PostgreSQL/TimescaleDB pool the event recorder
// writes to and creates the channel_events table.
package database
