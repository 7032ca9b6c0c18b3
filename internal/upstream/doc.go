// Package upstream talks to a NuGet v3 package source: it discovers the
// registration and flat container endpoints from the service index, reads
// registration pages (inlined or not) and streams .nupkg content.
//
// Every request goes through a retry loop (exponential backoff, bounded by
// MaxRetries) wrapped in a per-client circuit breaker. A 404 maps to
// packages.ErrNotFound and never counts against the breaker; 429, 5xx,
// network failures and an open circuit map to packages.ErrUpstreamUnavailable.
package upstream
