// Package monitor turns Celery lifecycle events into metric points.
//
// Events arrive from a Source and are routed by the Dispatcher: task events
// go to the Classifier, which keeps per-task state in a bounded, expiring
// Store and derives durations; worker heartbeats go to the HeartbeatTracker.
// The Aggregator independently snapshots queue depths and the heartbeat set
// every period and commits the sink. Monitor wires these together.
package monitor
