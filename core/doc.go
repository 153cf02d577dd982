// Package core defines the shared data model for the hybrid memory engine:
// memory items and their tiers, the seven-dimensional Context7 descriptor,
// reasoning chains, synchronicity events, and the session/task records kept
// by the short-term store.
//
// Every other package depends on core and core depends on nothing above the
// standard library (plus uuid for id generation), so it can be imported
// freely without cycles.
package core
