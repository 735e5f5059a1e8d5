// Package dedupe suppresses redelivered webhook events. The platform retries
// deliveries it did not see acknowledged, so the same message id can arrive
// more than once; Cache remembers recently claimed keys for a TTL and evicts
// the oldest entries once full.
package dedupe
