// Package logging provides a small abstraction over log/slog so the engine,
// transports and the console depend on one Logger interface while callers can
// plug any structured logger.
package logging
