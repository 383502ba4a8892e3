// Package journal provides type-safe Go definitions and Redis schema patterns
// for the Drey coordination journal. The journal is the shared state system
// where all Drey components (pipeline runtime, integrator, CLI) interact via
// well-defined data structures stored in Redis: a durable ordered event log
// (Redis stream), the dedup table, the integration lease, the integration
// queue and the notification records.
//
// All Redis keys and channels are namespaced by instance name to enable
// multiple Drey instances to safely coexist on a single Redis server.
package journal
