// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the structured HTTP access logger.
// Request logs in this system can carry two kinds of sensitive material:
// caller identity (the X-User-ID header, message and room UUIDs in paths and
// queries) and device push tokens, which are bearer credentials for a user's
// notification channel. Both are scrubbed before a line is emitted.
//
// Design goals:
//   - Default-safe: never logs request or response bodies (message text and
//     image payloads stay out of the logs entirely)
//   - Masks identity and credential headers outright
//   - Pattern-redacts push tokens, UUIDs, and email addresses wherever they
//     ride in query strings or unmasked headers
//   - Produces structured JSON lines via zerolog
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{middleware.HeaderIdempotencyKey},
//	}))
//
// Scrubbing reduces but does not eliminate leak risk; clients should still
// keep tokens out of query strings.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders lists extra HTTP header names whose values are fully replaced
// with "[REDACTED]". Matching is case-insensitive and merged with the
// built-in masked set ("Authorization", "Cookie", "Set-Cookie", "X-User-ID").
type RedactOptions struct {
	MaskHeaders []string
}

// Patterns applied to query strings and unmasked header values. Push tokens
// go first: their bracket payload is free-form and could otherwise be
// half-eaten by the UUID pattern.
var (
	pushTokenRE = regexp.MustCompile(`\bExpo(?:nent)?PushToken\[[^\]\s]*\]`)
	uuidValRE   = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE     = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

func redactValue(s string) string {
	if s == "" {
		return s
	}
	out := pushTokenRE.ReplaceAllString(s, "[REDACTED:push-token]")
	out = uuidValRE.ReplaceAllString(out, "[REDACTED:id]")
	out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
	return out
}

// RedactingLogger returns a Gin middleware that logs HTTP requests with
// sensitive values scrubbed.
//
// Behavior:
//   - Logs method, route pattern, query string, status, response size,
//     latency, and request headers (scrubbing applied).
//   - Fully masks the built-in sensitive headers plus opts.MaskHeaders.
//   - Pattern-redacts push tokens, UUID identifiers, and email addresses
//     from query strings and remaining header values.
//   - INFO for 2xx/3xx, WARN for 4xx, ERROR for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
		"x-user-id":     {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		// Route pattern over the raw path, so /rooms/:room/messages stays
		// one series and the concrete room identifier stays out of it.
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redactValue(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redactValue(strings.Join(vv, ", "))
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := c.Writer.Size()

		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", size).
			Dur("latency", latency).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
