// Package logging provides a structured logging system for objectos with
// unified log handling and flexible output formatting.
//
// This package implements a logging system built on Go's standard slog
// package, providing consistent logging behavior with structured output and
// level filtering.
//
// # Architecture
//
// The logging system is built around these core concepts:
//
// ## Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about kernel operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// ## Structured Logging
// All log entries include:
//   - Timestamp with nanosecond precision
//   - Log level (Debug, Info, Warn, Error)
//   - Subsystem identifier for categorization
//   - Message content with optional formatting
//   - Optional error information
//
// # Usage Examples
//
// ## Initialization
//
//	import "objectos/pkg/logging"
//
//	// Initialize with Info level text logging to stderr
//	logging.Init(logging.LevelInfo, logging.FormatText, os.Stderr)
//
//	// Log messages
//	logging.Info("Kernel", "Bootstrap complete, %d plugins started", n)
//	logging.Debug("Config", "Loaded configuration from %s", configPath)
//	logging.Warn("Hooks", "Trigger on unknown topic %q", topic)
//	logging.Error("JobQueue", err, "Handler for job %s failed", id)
//
// ## JSON Output
//
//	// Structured JSON for log aggregation
//	logging.Init(logging.LevelInfo, logging.FormatJSON, os.Stdout)
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization:
//
//   - **Bootstrap**: Application initialization and startup
//   - **Config**: Configuration loading and validation
//   - **Kernel**: Plugin lifecycle management
//   - **Hooks**: Event/hook bus dispatch
//   - **Permissions**: Permission engine decisions and reloads
//   - **Audit**: Audit pipeline recording and retention
//   - **JobQueue**: Background job dispatch
//   - **Notifications**: Notification queue dispatch
//   - **HTTP**: API server requests
//
// # Integration with slog
//
// The logging system integrates with Go's standard slog package:
//   - Uses slog.Handler implementations for output formatting
//   - Converts custom LogLevel to slog.Level for compatibility
//   - Sets the global slog default so direct slog calls share the handler
//
// # Thread Safety
//
// The logging system is fully thread-safe:
//   - Safe concurrent logging from multiple goroutines
//   - Level filtering at handler level for efficiency
//   - No memory allocation for filtered-out messages
package logging
