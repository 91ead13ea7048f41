// Package realtime composes the Connection Manager and the Event Router into
// the single service an application holds for its real-time channel.
//
// Lifecycle: New, Open, Connect, then Disconnect and Connect as often as
// needed, and finally Close.
package realtime
