// Package store provides persistent storage for the helpdesk gateway using gorm.
//
// # Architecture
//
// Store wraps a *gorm.DB opened against either SQLite (modernc.org/sqlite,
// used for development and tests) or PostgreSQL (production). Records
// reference each other by id only; there are no back-reference object graphs.
// Consumers declare the narrow interface they need (see conversation.Store)
// and *Store satisfies all of them.
//
// # Data Models
//
//   - User: helpdesk operator identity with bcrypt credential hash
//   - PageConnection: stored page access token linking a user to a page
//   - Conversation: continuity window with one external participant
//   - Message: immutable inbound or outbound message within a conversation
//
// # Timestamps
//
// Every instant is stored in UTC: BeforeSave hooks normalize conversation and
// message times, and gorm's clock is UTC. Records come back in UTC; the
// conversation layer projects them into the display zone for clients.
//
// # Errors
//
//   - ErrNotFound: the requested record does not exist or is not owned by the caller
//   - ErrDuplicateEmail: registration with an email that already exists
//   - ErrDuplicatePage: a second row for the same (page, user) pair
package store
