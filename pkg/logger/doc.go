// Package logger provides the structured logging interface used across igbatch.
//
// It wraps zerolog. Console output is colourised and written to stderr;
// JSON output and an optional log file are available through LoggingConfig.
//
//	err := logger.Initialize(&cfg.Logging)
//	log := logger.GetLogger().WithField("component", "batch")
//	logger.LogAccountResult(log, "natgeo", true, 3, "", time.Second)
//
// Components take a Logger in their constructors. Tests use NewNopLogger or
// NewTestLogger, which records messages for assertions.
package logger
