// Package harness drives a node through one batch of one-shot RPC queries
// and one batch of subscriptions, and turns their verdicts into a process
// exit code.
//
// The node handle is created once, used by both batches and destroyed once
// when the run ends, whatever the outcome. A failure to create it ends the
// run before any batch is issued.
package harness
