// Package dedupe recognizes keys seen within a time window, so a retried
// request carrying the same idempotency key is not acted on twice.
package dedupe
