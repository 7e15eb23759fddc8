// Package completion tracks how many of a batch's expected callbacks have
// arrived.
//
// A Tracker is created per batch with the number of requests it will issue.
// Its Callback is handed to every request of the batch; each qualifying
// delivery decrements a shared atomic Counter exactly once. After the
// observation window the dispatcher reads the counter: zero means every
// expected callback was observed, a positive value is the shortfall.
package completion
