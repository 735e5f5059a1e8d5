// Package webhook verifies and decodes messaging-platform webhook deliveries.
//
// Verification happens on the raw request bytes before anything is parsed:
// VerifySignature recomputes HMAC-SHA256 with the app secret and compares it
// to the X-Hub-Signature-256 header in constant time. Handshake implements the
// GET subscription check.
//
// Parse produces a Payload whose messaging events carry explicit optional
// fields; MessagingEvent.Kind tells message, echo, postback, delivery and
// read receipts apart.
package webhook
