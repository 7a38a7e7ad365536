// Package model defines the flow engine data model: flow types and their
// step graphs, running flow instances with their blackboard data, dynamic
// branching, and the pause/resume policies. Definitions are immutable after
// registration; only instance state evolves at runtime.
package model
