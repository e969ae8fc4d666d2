// Package api contains the core building blocks shared by the actuator, the
// event bus and the echo correlator. It provides the types used to describe
// tasks, intercept their execution and observe their lifecycle.
//
// Most users interact with the higher-level teaneko package, which re-exports
// selected types and helpers from this package.
//
// # Tasks
//
// A TaskConfig describes one logical unit of work: its callable, initial
// delay, retry budget, retry strategy, retry interval and expiration. The
// config is copied on submission and shared read-only by every attempt.
//
// A callable reports a TaskResult. Its Success flag is the callable's own
// verdict; the future completing (or failing) is a separate concern.
//
// # Classification
//
// Failures are classified explicitly with Retryable and Fatal. The retry
// scheduler consults the classification together with the task's
// RetryStrategy:
//
//   - RetryAlways retries every failure except Fatal ones.
//   - RetryNever never retries.
//   - RetryConditional asks RetryIf, or retries only Retryable errors.
//
// # Stages
//
// A Stage wraps every attempt of a task. Stages run in descending priority
// and form a chain that ends with the callable. A stage may short-circuit,
// transform the result or reclassify the error returned by Chain.Next.
//
// # Observability
//
// Observer receives task lifecycle callbacks. LoggingObserver writes them to
// log/slog, BasicMetrics counts them, and NewCompositeObserver fans out to
// several observers.
package api
