// Package monitor watches a single coordination-service node and turns raw
// watch events and asynchronous existence results into debounced
// notifications.
//
// A Monitor notifies its Listener when:
//   - the node's content changes (including appearing or disappearing)
//   - the number of descendants grows
//   - the session dies (expired or unauthorized)
//
// Lifecycle:
//
//	init --arm--> watching --expire--> dead
//	init --expire--> dead
//
// All inputs (session events, node events, existence results and delayed
// retries) are handled one at a time on the goroutine running Run, so the
// last known content needs no locking. In the dead state no watch is armed
// again and results are discarded.
//
// Descendant shrink is recorded but never reported. Only growth reaches the
// Listener.
package monitor
