package coord

import "context"

// Client is the coordination-service surface nodewatch depends on.
//
// Implementations must be safe for concurrent use. Watches are one-shot: each
// ExistsW or ChildrenW call arms at most one future event for that path, and
// that event is delivered on Events.
type Client interface {
	// ExistsW starts an existence check for path and arms a watch that fires on
	// creation, deletion or data change. The result is delivered exactly once on
	// the returned channel.
	ExistsW(path string) <-chan ExistsResult

	// Get reads the content of path. It returns ErrNoNode if the node is gone.
	// Implementations return a non-nil slice for an existing node, even when
	// the node holds no data.
	Get(ctx context.Context, path string) ([]byte, error)

	// ChildrenW lists the children names of path and arms a watch on the
	// child collection.
	ChildrenW(ctx context.Context, path string) ([]string, error)

	// Events returns the stream of session and node events. It is closed when
	// the client is closed.
	Events() <-chan Event

	// Close releases the session.
	Close()
}
