// Package process manages the lifecycle of a single child process.
//
// A Process is started once and stopped once:
//   - The child runs in its own process group, so stop signals reach the
//     whole tree it spawned
//   - Stop sends SIGINT and waits for a configurable graceful timeout
//   - SIGKILL follows if the child is still alive, bounded by a kill timeout
//   - stdout and stderr are streamed line by line into a logger
//   - State transitions (idle, starting, running, stopping, exited, error)
//     are reported through an optional callback
//
// Example usage:
//
//	p := process.New("child", []string{"/usr/bin/sleep", "60"}, logger,
//	    process.WithGracefulTimeout(2*time.Second),
//	)
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	defer p.Stop()
package process
