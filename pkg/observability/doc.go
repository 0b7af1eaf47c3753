/*
Package observability turns the engine's lifecycle events into
Prometheus metrics.

Metrics registers counters and histograms for node visits, node
durations, halts, and full turns. Its Hooks feed the per-node
collectors from a graph invocation; ObserveTurn records turn outcomes.
JoinHooks combines metric hooks with any other LifecycleHooks consumer,
such as an SSE stream or a debug logger.
*/
package observability
