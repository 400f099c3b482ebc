// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps a job function call. Middleware
// are composed into a chain using [Chain] and applied around each
// execution. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs job name, owner, duration, and outcome
//   - [Recover] — catches panics and converts them to errors, so a
//     panicking job function becomes a failed job rather than a dead slot
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-job duration and outcome counters
//
// There is deliberately no wall-clock timeout middleware: a job function
// between safe points cannot be preempted, so an elapsed-time limit
// belongs in the function's own safe-point checks.
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
