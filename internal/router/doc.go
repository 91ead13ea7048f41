// Package router implements the Event Router component.
//
// The Event Router:
//   - Delivers server events to typed listeners, in arrival order, on one goroutine
//   - Correlates request emissions with their acknowledgment by requestId
//   - Times out unanswered requests and ignores late acknowledgments
//   - Drops fire-and-forget sends while the channel is down
//   - Optionally mirrors every subscribable event onto an unbounded Queue
package router
