// Package logging provides structured logging utilities for sitekit.
//
// All packages log through log/slog. This package keeps attribute names
// consistent and makes sure owner identities and OAuth tokens never reach the
// log output in clear text.
//
// # Usage Patterns
//
//	logger := logging.WithOperation(base, "auth.refresh")
//	logger.Info("credential refreshed",
//	    logging.OwnerHash(owner),
//	    logging.Status(logging.StatusSuccess))
//
// A request-scoped logger travels in the context:
//
//	ctx = logging.NewContext(ctx, logger.With(logging.RequestID(id)))
//	logging.FromContext(ctx, base).Warn("denied")
package logging
