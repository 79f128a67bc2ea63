// Package logger provides the structured logging interface used across storyrelay.
//
// It wraps zerolog behind the Logger interface so components receive a logger
// by injection and tests can swap in NewTestLogger or NewNopLogger.
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "relay")
//	log.WithError(err).Warn("Delivery failed")
//
// Without a log file the output is a colored console writer on stderr; with a
// file configured, JSON lines are appended to it as well.
package logger
