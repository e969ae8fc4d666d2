// Package worker provides the bounded goroutine pool that executes task
// bodies and stage chains.
//
// A Pool runs a fixed number of worker goroutines that consume jobs from a
// bounded queue. Jobs receive the pool's context, which is cancelled when
// the pool stops. Panics inside a job are recovered and logged so a single
// bad job never kills a worker.
//
// # Submission
//
//   - Submit blocks until the job is queued, the caller's context is done,
//     or the pool stops.
//   - TrySubmit never blocks and returns ErrQueueFull when the queue is at
//     capacity. The actuator's timer goroutine uses it so scheduling is
//     never held up by a busy pool.
//
// # Shutdown
//
// StopWait closes the queue and lets workers drain everything already
// queued. Stop cancels the pool context and discards queued jobs.
package worker
