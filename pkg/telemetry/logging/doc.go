// Package logging configures the process-wide log/slog logger.
//
// Output is JSON or text. A wrapping Handler adds request_id, user and
// account from the record's context and, when credential redaction is on,
// masks upstream and proxy passwords, password= query values and URL
// userinfo in every string attribute:
//
//	logger, _ := logging.New(cfg.Telemetry.Logging, logging.Secrets(cfg), nil)
//	logger.SetDefault()
//	slog.InfoContext(logging.WithRequestID(ctx, id), "relay finished", "url", u)
//
// RedactPath masks the password segment of Xtream stream paths for access
// logs.
package logging
