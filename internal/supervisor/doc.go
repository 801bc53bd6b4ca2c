// Package supervisor runs one child program on behalf of a monitored node.
//
// The Supervisor implements monitor.Listener. When the node gains or changes
// content it stops any running child and launches a fresh one, then prints
// the node's descendant tree. When the node disappears it stops the child.
// Growth of the descendant tree is reported on the output writer. Run blocks
// until the coordination session is lost.
package supervisor
