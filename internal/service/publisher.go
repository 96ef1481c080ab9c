package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/haatos/deplora/internal/store"
	"github.com/jonboulle/clockwork"
)

const subscriberBuffer = 16

// Publisher records every state transition in the session snapshot and then
// pushes it to the session's live subscribers. It is the only writer of a
// session's LastStatus and LastBuild.
type Publisher struct {
	sessionStore store.SessionStore
	clock        clockwork.Clock
	subscribers  *SubscriberMap[store.Notification]
}

func NewPublisher(sessionStore store.SessionStore, clock clockwork.Clock) *Publisher {
	return &Publisher{
		sessionStore: sessionStore,
		clock:        clock,
		subscribers:  NewSubscriberMap[store.Notification](subscriberBuffer),
	}
}

// Publish stores the notification as the session's last status and
// broadcasts it. A nil build leaves the stored last build untouched. Nothing
// is broadcast when the snapshot cannot be written.
func (p *Publisher) Publish(
	ctx context.Context,
	sessionID string,
	kind store.StatusKind,
	build *store.BuildRecord,
	message string,
) (*store.Notification, error) {
	s, err := p.sessionStore.ReadSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}

	now := p.clock.Now().UTC()
	n := &store.Notification{
		SessionID:   sessionID,
		Kind:        kind,
		Build:       build,
		Message:     message,
		PublishedOn: now,
	}
	s.LastStatus = n
	if build != nil {
		s.LastBuild = build
	}
	s.UpdatedOn = now
	if err := p.sessionStore.UpsertSession(ctx, s); err != nil {
		return nil, fmt.Errorf("storing %s status of session %s: %w", kind, sessionID, err)
	}

	if dropped := p.subscribers.Send(sessionID, *n); dropped > 0 {
		log.Printf("dropped %s notification for %d subscribers of session %s\n", kind, dropped, sessionID)
	}
	return n, nil
}

func (p *Publisher) Subscribe(sessionID string) (string, <-chan store.Notification) {
	return p.subscribers.Subscribe(sessionID)
}

func (p *Publisher) Unsubscribe(sessionID, subscriberID string) {
	p.subscribers.Unsubscribe(sessionID, subscriberID)
}
