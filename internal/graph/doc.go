// Package graph is the client for the messaging platform's OAuth and Graph
// REST APIs: connecting a page, resolving participant profiles, and sending
// replies. Every failure matches ErrUpstream; non-2xx responses are
// *APIError values carrying the platform's error envelope.
package graph
