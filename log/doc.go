// Package log provides a simple, leveled logging interface shared by the
// task runner, graph scheduler, and job queue.
//
// # Log Levels
//
// The package supports five log levels, in order of increasing severity:
//
//   - LogLevelDebug: Detailed debugging information for development
//   - LogLevelInfo: General informational messages about normal operation
//   - LogLevelWarn: Warning messages for potentially problematic situations
//   - LogLevelError: Error messages for failures that need attention
//   - LogLevelNone: Disables all logging output
//
// # Logger Interface
//
// The Logger interface provides four main logging methods:
//
//   - Debug: For detailed troubleshooting information
//   - Info: For general application flow information
//   - Warn: For issues that don't stop execution but need attention
//   - Error: For failures and exceptions
//
// # Example Usage
//
//	logger := log.NewDefaultLogger(log.LogLevelInfo)
//	logger.Info("scheduler starting wave %d", wave)
//	logger.Debug("task %s input: %v", taskID, input)
//	logger.Warn("rate limit approaching: %d executions", count)
//	logger.Error("task %s failed: %v", taskID, err)
//
// # golog integration
//
// For callers who prefer github.com/kataras/golog, GologLogger wraps an
// existing *golog.Logger behind the same Logger interface:
//
//	glogger := golog.New()
//	logger := log.NewGologLogger(glogger)
//	logger.SetLevel(log.LogLevelDebug)
//
// # Thread Safety
//
// DefaultLogger is safe for concurrent use; it delegates to the standard
// library's *log.Logger, which synchronizes internally. The task runner
// and the graph scheduler accept a Logger and fall back to the
// package-level default when none is supplied; queue.Sweeper falls back to
// a NoOpLogger. The job-queue backends and the rate limiter do not log.
package log
