// Package conversation groups platform messages into conversations and pushes
// them to live viewers.
//
// # Manager
//
// The Manager sits between the webhook and REST handlers and the store:
//
//	mgr := conversation.NewManager(store, graphClient, registry, conversation.Options{})
//
// Key operations:
//
//   - RecordInbound(ctx, event, pageID): persist an inbound message
//   - SendOutbound(ctx, conversationID, text): deliver and persist a reply
//   - ListConversations(ctx, userID): conversations with their messages
//
// # Continuity
//
// A (user, participant) pair keeps talking in its latest conversation until
// the gap since that conversation's last activity exceeds the continuity
// window (24h by default). The next message then opens a fresh conversation.
// Resolution for one pair is serialized so concurrent deliveries never open
// two conversations.
//
// Stored timestamps are expressed in a fixed display zone (UTC+05:30 by
// default); comparisons are done on instants.
//
// # Registry
//
// Registry holds the live real-time subscribers of each conversation.
// Every persisted message, in either direction, is encoded as a new_message
// push and broadcast to that conversation's subscribers. Subscribers whose
// send fails are dropped.
package conversation
