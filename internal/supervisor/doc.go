// Package supervisor owns the set of active campaign runners. It persists
// campaign records, spawns and stops runner goroutines, guards each comment
// sheet with a distributed lock, and restores running campaigns after a
// process restart. All operator commands go through this package.
package supervisor
