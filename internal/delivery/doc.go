// Package delivery queues outbound passcode mail so request handlers never
// wait on the mail relay.
//
// A [Dispatcher] in async mode hands messages to a fixed pool of workers over
// a bounded channel. A full queue rejects the message with [ErrQueueFull]
// instead of blocking. In sync mode the send runs inline and its error is
// returned to the caller.
package delivery
