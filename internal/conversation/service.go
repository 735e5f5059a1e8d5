// ABOUTME: Conversation Manager: continuity policy plus inbound/outbound message persistence
// ABOUTME: Every persisted message is pushed to live subscribers of its conversation

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/helpdesk-gateway/internal/dedupe"
	"github.com/2389/helpdesk-gateway/internal/graph"
	"github.com/2389/helpdesk-gateway/internal/metrics"
	"github.com/2389/helpdesk-gateway/internal/store"
	"github.com/2389/helpdesk-gateway/internal/webhook"
)

// Defaults for Options.
const (
	DefaultContinuityWindow  = 24 * time.Hour
	DefaultNameLookupTimeout = 5 * time.Second
	DefaultDisplayOffset     = 5*time.Hour + 30*time.Minute
)

// UnknownParticipantName is stored when a participant's name cannot be resolved.
const UnknownParticipantName = "Unknown User"

// Manager errors
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUpstreamUnavailable  = errors.New("no active page connection")
	ErrSendFailed           = errors.New("delivery failed")
	ErrEmptyMessage         = errors.New("message content is required")
)

// Store defines what the manager needs from storage
type Store interface {
	OwnerOfPage(ctx context.Context, pageID string) (*store.User, error)
	FirstActivePage(ctx context.Context, userID uint) (*store.PageConnection, error)

	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id uint) (*store.Conversation, error)
	GetConversationForUser(ctx context.Context, id, userID uint) (*store.Conversation, error)
	LatestConversation(ctx context.Context, userID uint, participantID string) (*store.Conversation, error)
	ListConversations(ctx context.Context, userID uint) ([]*store.Conversation, error)

	AppendMessage(ctx context.Context, msg *store.Message) error
	LatestMessage(ctx context.Context, conversationID uint) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID uint) ([]*store.Message, error)
	MessagesByConversation(ctx context.Context, conversationIDs []uint) (map[uint][]*store.Message, error)
}

// Platform defines what the manager needs from the messaging platform
type Platform interface {
	UserProfile(ctx context.Context, psid, pageToken string) (*graph.Profile, error)
	SendText(ctx context.Context, pageToken, recipientID, text string) (string, error)
}

// Publisher receives encoded pushes for persisted messages
type Publisher interface {
	Broadcast(conversationID uint, payload []byte) int
}

// Options tunes a Manager. Zero values take the package defaults.
type Options struct {
	ContinuityWindow  time.Duration
	NameLookupTimeout time.Duration
	DisplayZone       *time.Location
	Now               func() time.Time
	Dedupe            *dedupe.Cache
	Logger            *slog.Logger
}

// Manager decides which conversation a message belongs to and persists it.
type Manager struct {
	store     Store
	platform  Platform
	publisher Publisher
	dedupe    *dedupe.Cache

	window      time.Duration
	nameTimeout time.Duration
	zone        *time.Location
	now         func() time.Time

	// flight serializes resolve-or-create per (user, participant)
	flight singleflight.Group

	logger *slog.Logger
}

// NewManager creates a Manager. publisher may be nil.
func NewManager(st Store, platform Platform, publisher Publisher, opts Options) *Manager {
	if opts.ContinuityWindow <= 0 {
		opts.ContinuityWindow = DefaultContinuityWindow
	}
	if opts.NameLookupTimeout <= 0 {
		opts.NameLookupTimeout = DefaultNameLookupTimeout
	}
	if opts.DisplayZone == nil {
		opts.DisplayZone = FixedZone(DefaultDisplayOffset)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		store:       st,
		platform:    platform,
		publisher:   publisher,
		dedupe:      opts.Dedupe,
		window:      opts.ContinuityWindow,
		nameTimeout: opts.NameLookupTimeout,
		zone:        opts.DisplayZone,
		now:         opts.Now,
		logger:      opts.Logger.With("component", "conversation"),
	}
}

// FixedZone returns a non-DST zone at offset from UTC, named like "UTC+05:30".
func FixedZone(offset time.Duration) *time.Location {
	sign := '+'
	abs := offset
	if offset < 0 {
		sign = '-'
		abs = -offset
	}
	name := fmt.Sprintf("UTC%c%02d:%02d", sign, int(abs.Hours()), int(abs.Minutes())%60)
	return time.FixedZone(name, int(offset.Seconds()))
}

// Outcome classifies what RecordInbound did with an event.
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDropped   Outcome = "dropped"
	OutcomeDuplicate Outcome = "duplicate"
)

// Drop reasons reported with OutcomeDropped.
const (
	DropNoSender = "no sender"
	DropNoBody   = "no message body"
	DropEcho     = "echo of page message"
	DropNoOwner  = "no owning user for page"
)

// InboundResult reports how an inbound event was handled. Dropped and
// duplicate events are not errors.
type InboundResult struct {
	Outcome      Outcome
	Reason       string
	Conversation *store.Conversation
	Message      *store.Message
}

func dropped(reason string) InboundResult {
	return InboundResult{Outcome: OutcomeDropped, Reason: reason}
}

// RecordInbound persists one inbound messaging event received for pageID.
// Events without a sender, without a body, echoes of the page's own
// messages, and events for pages no user owns are dropped.
func (m *Manager) RecordInbound(ctx context.Context, ev webhook.MessagingEvent, pageID string) (InboundResult, error) {
	res, err := m.recordInbound(ctx, ev, pageID)
	switch {
	case err != nil:
		metrics.InboundEvents.WithLabelValues("error").Inc()
	default:
		metrics.InboundEvents.WithLabelValues(string(res.Outcome)).Inc()
	}
	return res, err
}

func (m *Manager) recordInbound(ctx context.Context, ev webhook.MessagingEvent, pageID string) (InboundResult, error) {
	senderID := ev.SenderID()
	if senderID == "" {
		return dropped(DropNoSender), nil
	}
	if ev.Kind() == webhook.KindEcho {
		return dropped(DropEcho), nil
	}
	text, ok := ev.Body()
	if !ok {
		return dropped(DropNoBody), nil
	}

	owner, err := m.store.OwnerOfPage(ctx, pageID)
	if errors.Is(err, store.ErrNotFound) {
		return dropped(DropNoOwner), nil
	}
	if err != nil {
		return InboundResult{}, fmt.Errorf("looking up page owner: %w", err)
	}

	var externalID *string
	if mid := ev.Message.MID; mid != "" {
		externalID = &mid
		if m.dedupe != nil {
			key := dedupe.DeliveryKey(pageID, mid)
			if !m.dedupe.Claim(key) {
				return InboundResult{Outcome: OutcomeDuplicate, Reason: mid}, nil
			}
			defer func() {
				if err != nil {
					m.dedupe.Release(key)
				}
			}()
		}
	}

	at := ev.Time()
	if at.IsZero() {
		at = m.now()
	}
	at = at.In(m.zone)

	conv, err := m.ResolveOrCreateConversation(ctx, owner.ID, senderID, at)
	if err != nil {
		return InboundResult{}, err
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		Content:        text,
		Direction:      store.DirectionIncoming,
		ExternalID:     externalID,
		Timestamp:      at,
	}
	if err = m.store.AppendMessage(ctx, msg); err != nil {
		return InboundResult{}, fmt.Errorf("recording inbound message: %w", err)
	}

	m.localizeMessage(msg)
	m.logger.Debug("inbound message recorded",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"page_id", pageID,
		"sender", senderID)

	m.publish(conv.ID, msg)
	return InboundResult{Outcome: OutcomeRecorded, Conversation: conv, Message: msg}, nil
}

// ResolveOrCreateConversation returns the conversation an event at time at
// belongs to. The latest conversation for the pair is reused unless its most
// recent activity (last message, or creation when it has none) is more than
// the continuity window before at. Calls for the same pair are serialized.
//
// The shared call does not inherit ctx cancellation: callers waiting on the
// same pair must not fail because the first caller went away. Its only
// outbound call is the name lookup, which has its own timeout.
func (m *Manager) ResolveOrCreateConversation(ctx context.Context, userID uint, participantID string, at time.Time) (*store.Conversation, error) {
	key := fmt.Sprintf("%d:%s", userID, participantID)
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.flight.Do(key, func() (any, error) {
		return m.resolveOrCreate(shared, userID, participantID, at)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Conversation), nil
}

func (m *Manager) resolveOrCreate(ctx context.Context, userID uint, participantID string, at time.Time) (*store.Conversation, error) {
	conv, err := m.store.LatestConversation(ctx, userID, participantID)
	if errors.Is(err, store.ErrNotFound) {
		return m.createConversation(ctx, userID, participantID, "first_contact")
	}
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	lastActivity := conv.CreatedAt
	last, err := m.store.LatestMessage(ctx, conv.ID)
	switch {
	case err == nil:
		lastActivity = last.Timestamp
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("looking up latest message: %w", err)
	}

	if at.Sub(lastActivity) > m.window {
		m.logger.Debug("continuity window expired",
			"conversation_id", conv.ID,
			"last_activity", lastActivity,
			"at", at)
		return m.createConversation(ctx, userID, participantID, "window_expired")
	}
	m.localizeConversation(conv)
	return conv, nil
}

func (m *Manager) createConversation(ctx context.Context, userID uint, participantID, reason string) (*store.Conversation, error) {
	now := m.now().In(m.zone)
	conv := &store.Conversation{
		UserID:          userID,
		ParticipantID:   participantID,
		ParticipantName: m.lookupName(ctx, userID, participantID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	metrics.ConversationsCreated.WithLabelValues(reason).Inc()
	m.localizeConversation(conv)

	m.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"user_id", userID,
		"participant", participantID,
		"reason", reason)
	return conv, nil
}

// lookupName resolves a participant's display name. It never fails: a
// missing page token, an error, or a timeout all yield UnknownParticipantName.
func (m *Manager) lookupName(ctx context.Context, userID uint, participantID string) string {
	if m.platform == nil {
		return UnknownParticipantName
	}
	page, err := m.store.FirstActivePage(ctx, userID)
	if err != nil {
		return UnknownParticipantName
	}

	lookupCtx, cancel := context.WithTimeout(ctx, m.nameTimeout)
	defer cancel()

	begin := time.Now()
	profile, err := m.platform.UserProfile(lookupCtx, participantID, page.AccessToken)
	metrics.ObservePlatform("user_profile", begin)
	if err != nil {
		m.logger.Debug("participant name lookup failed", "participant", participantID, "error", err)
		return UnknownParticipantName
	}
	if profile == nil || strings.TrimSpace(profile.Name) == "" {
		return UnknownParticipantName
	}
	return profile.Name
}

// SendOutbound sends text to the participant of conversationID through the
// owner's first active page and records it. Nothing is persisted if the send
// fails.
func (m *Manager) SendOutbound(ctx context.Context, conversationID uint, text string) (*store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	conv, err := m.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return m.send(ctx, conv, text)
}

// SendOutboundForUser is SendOutbound restricted to conversations owned by userID.
func (m *Manager) SendOutboundForUser(ctx context.Context, userID, conversationID uint, text string) (*store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	conv, err := m.store.GetConversationForUser(ctx, conversationID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return m.send(ctx, conv, text)
}

func (m *Manager) send(ctx context.Context, conv *store.Conversation, text string) (*store.Message, error) {
	page, err := m.store.FirstActivePage(ctx, conv.UserID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.OutboundMessages.WithLabelValues("no_page").Inc()
		return nil, ErrUpstreamUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("loading page connection: %w", err)
	}

	begin := time.Now()
	mid, err := m.platform.SendText(ctx, page.AccessToken, conv.ParticipantID, text)
	metrics.ObservePlatform("send_text", begin)
	if err != nil {
		metrics.OutboundMessages.WithLabelValues("failed").Inc()
		m.logger.Warn("outbound send failed",
			"conversation_id", conv.ID,
			"page_id", page.PageID,
			"error", err)
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	metrics.OutboundMessages.WithLabelValues("sent").Inc()

	msg := &store.Message{
		ConversationID: conv.ID,
		Content:        text,
		Direction:      store.DirectionOutgoing,
		ExternalID:     &mid,
		Timestamp:      m.now().In(m.zone),
	}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		m.logger.Error("message sent but not recorded",
			"conversation_id", conv.ID,
			"fb_message_id", mid,
			"error", err)
		return nil, fmt.Errorf("recording outbound message: %w", err)
	}
	m.localizeMessage(msg)

	m.publish(conv.ID, msg)
	return msg, nil
}

func (m *Manager) publish(conversationID uint, msg *store.Message) {
	if m.publisher == nil {
		return
	}
	payload, err := NewMessageEvent(msg)
	if err != nil {
		m.logger.Error("encoding push event", "message_id", msg.ID, "error", err)
		return
	}
	m.publisher.Broadcast(conversationID, payload)
}

// ConversationView is a conversation together with its messages.
type ConversationView struct {
	*store.Conversation
	Messages []*store.Message `json:"messages"`
}

// ListConversations returns userID's conversations, newest first, with messages.
func (m *Manager) ListConversations(ctx context.Context, userID uint) ([]ConversationView, error) {
	convs, err := m.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	byConv, err := m.store.MessagesByConversation(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]ConversationView, len(convs))
	for i, c := range convs {
		m.localizeConversation(c)
		msgs := byConv[c.ID]
		if msgs == nil {
			msgs = []*store.Message{}
		}
		for _, msg := range msgs {
			m.localizeMessage(msg)
		}
		views[i] = ConversationView{Conversation: c, Messages: msgs}
	}
	return views, nil
}

// ListMessages returns the messages of a conversation owned by userID.
func (m *Manager) ListMessages(ctx context.Context, userID, conversationID uint) ([]*store.Message, error) {
	if _, err := m.Conversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := m.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		m.localizeMessage(msg)
	}
	return msgs, nil
}

// Conversation returns a conversation owned by userID.
func (m *Manager) Conversation(ctx context.Context, userID, conversationID uint) (*store.Conversation, error) {
	conv, err := m.store.GetConversationForUser(ctx, conversationID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	m.localizeConversation(conv)
	return conv, nil
}

// localizeConversation projects stored UTC instants into the display zone.
func (m *Manager) localizeConversation(c *store.Conversation) {
	c.CreatedAt = c.CreatedAt.In(m.zone)
	c.UpdatedAt = c.UpdatedAt.In(m.zone)
}

func (m *Manager) localizeMessage(msg *store.Message) {
	msg.Timestamp = msg.Timestamp.In(m.zone)
}
