// Package teaneko is an asynchronous task actuator with request/response
// correlation over an event bus.
//
// # Core Concepts
//
//  1. Actuator
//  2. Stage
//  3. Future
//  4. Bus
//  5. Correlator
//  6. Runtime
//
// # Actuator
//
// The Actuator runs tasks described by a TaskConfig. Every task moves
// through Created, Submitted, Executed and Finished. A single timer
// goroutine hands due tasks to a bounded worker pool; a failed attempt is
// either resubmitted after RetryInterval or finished, depending on
// RetryStrategy, MaxRetries and Expiration.
//
// Errors drive retries through explicit classification:
//
//	return teaneko.NotOK[int](), teaneko.Retryable(err) // try again
//	return teaneko.NotOK[int](), teaneko.Fatal(err)     // give up now
//
// # Stage
//
// Stages wrap every attempt, highest priority outermost. A stage may
// short-circuit, transform the result or reclassify the error returned by
// the rest of the chain. The storage package ships a stage that turns
// database contention into retryable errors.
//
// # Future
//
// Submit returns a Future. Futures compose with future.Then and
// future.Compose and always present the original failure cause. A chain
// ends with Finish; a failure nobody observed is logged exactly once, even
// when Finish is forgotten.
//
//	res, err := teaneko.NewTask("answer", compute).
//	    Retry(teaneko.Retry(3).Always().Every(time.Second)).
//	    Submit(rt).
//	    Join()
//
// # Bus and Correlator
//
// The event bus dispatches events synchronously to handlers ordered by
// ascending priority number. Cancellation is advisory. The correlator
// subscribes to response events and completes the future registered for
// the response's echo token.
//
// # Runtime
//
// Runtime wires all of the above from a TOML Config:
//
//	[actuator]
//	workers = 4
//	default_max_retries = 3
//
//	[sender]
//	response_timeout = "5s"
//
//	[storage]
//	driver = "sqlite"
//	dsn = "teaneko.db"
//
// See the examples directory for complete programs.
package teaneko
