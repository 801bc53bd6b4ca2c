package monitor

import (
	"context"

	"github.com/smazurov/nodewatch/internal/coord"
)

// Listener consumes Monitor notifications. All methods are called from the
// goroutine running Monitor.Run.
type Listener interface {
	// ContentChanged reports new node content. data is nil when the node does
	// not exist and non-nil (possibly empty) when it does.
	ContentChanged(ctx context.Context, data []byte)

	// ListChildren dumps the descendant tree of path.
	ListChildren(ctx context.Context, path string)

	// CountDescendants returns the number of nodes below path.
	CountDescendants(ctx context.Context, path string) (int, error)

	// DescendantsGrew reports a strictly larger descendant count.
	DescendantsGrew(path string, count int)

	// Closing reports that the session is gone for good.
	Closing(code coord.Code)
}

// EventHandler receives raw coordination events after the Monitor has
// handled them.
type EventHandler interface {
	HandleEvent(ev coord.Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ev coord.Event)

// HandleEvent calls f(ev).
func (f EventHandlerFunc) HandleEvent(ev coord.Event) { f(ev) }
