// Package optimize provides the graph-rewrite optimization passes executed
// before scheduling: dead-node elimination, linear-chain fusion, backward
// precision propagation, and memory-aware precision compression.
//
// Passes interact with a graph only through its public introspection and
// mutation API and preserve acyclicity and node/edge-set consistency. They
// run in the order they were added to the graph.
package optimize
