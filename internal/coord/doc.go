// Package coord defines the contract between nodewatch and a ZooKeeper-style
// coordination service.
//
// The service itself is an external collaborator. Everything nodewatch needs
// from it fits in four primitives:
//
//   - ExistsW: asynchronous existence check that arms a one-shot watch for
//     node creation, deletion and data changes
//   - Get: blocking read of node content
//   - ChildrenW: blocking child listing that arms a one-shot watch on the
//     child collection
//   - Events: a single stream of session and node events
//
// The production implementation lives in package zookeeper. Package coordtest
// provides an in-memory implementation for tests.
package coord
