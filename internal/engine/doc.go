// Package engine resolves and executes pipeline steps. Execution is driven
// top-down from a caller-selected step: missing inputs are produced by
// recursively executing their producer steps, present inputs have their
// recorded configuration verified, and each step's execution is guarded by a
// sentinel file so concurrent callers (goroutines or processes) run its work
// at most once.
package engine
