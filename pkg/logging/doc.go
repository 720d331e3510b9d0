// Package logging provides structured logging configuration for imposter.
//
// This package wraps log/slog so every component logs the same way. Loggers
// are scoped as they flow inward: the server scopes to an imposter with
// ForImposter, each request gets an exchange id from ForExchange, and the
// resolver, recorder and sandbox log through the scoped logger they receive.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatJSON,
//	})
//	logger = logging.ForImposter(logger, "http", 4545)
//	logger.Info("imposter started")
//
// # Integration
//
// Components accept a *slog.Logger in their constructor or per call. A nil
// logger is replaced by Nop via OrNop.
package logging
