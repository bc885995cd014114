// Package stream – SendPipeline
//
// This file implements the optimistic send pipeline: an outgoing message is
// staged locally the moment it is submitted (status "sending") so consumers
// can render it before the store write lands. On success the staged entry is
// retracted proactively, because the authoritative copy arriving through the
// realtime stream carries a different id and would otherwise coexist with
// it. On failure the entry flips to "failed" and stays visible for an
// explicit retry or dismiss; nothing is retried automatically.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

// Status is the lifecycle state of a staged outgoing message.
type Status string

const (
	// StatusSending marks a staged message whose store write is in flight.
	StatusSending Status = "sending"
	// StatusFailed marks a staged message whose store write failed.
	StatusFailed Status = "failed"
)

// OptimisticMessage is a transient, never-persisted staging record for one
// outgoing message. CreatedAt is the local clock at submit time, a stand-in
// until the store assigns the authoritative timestamp.
type OptimisticMessage struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// SendFunc performs the authoritative store write.
type SendFunc func(ctx context.Context, chatID, senderID, receiverID, plaintext string) (*domain.Message, error)

// SendPipeline stages outgoing messages for one consumer session.
type SendPipeline struct {
	// OnChange, when set, is invoked after every staging-state transition
	// so the consumer can re-render. Called without the pipeline lock held.
	OnChange func()

	// Now is the clock for optimistic timestamps. Nil means time.Now in UTC.
	Now func() time.Time

	send SendFunc

	mu     sync.Mutex
	staged map[string]*OptimisticMessage
	order  []string
}

// NewSendPipeline constructs a pipeline around the given store write.
func NewSendPipeline(send SendFunc) *SendPipeline {
	return &SendPipeline{
		send:   send,
		staged: make(map[string]*OptimisticMessage),
	}
}

func (p *SendPipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Submit stages the message and performs the store write. On success the
// staged entry is removed and the confirmed message returned; on failure the
// entry stays with status "failed" and the temp id identifies it for Retry
// or Dismiss.
func (p *SendPipeline) Submit(ctx context.Context, chatID, senderID, receiverID, plaintext string) (tempID string, confirmed *domain.Message, err error) {
	m := &OptimisticMessage{
		ID:         "temp_" + uuid.NewString(),
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    plaintext,
		Status:     StatusSending,
		CreatedAt:  p.now(),
	}

	p.mu.Lock()
	p.staged[m.ID] = m
	p.order = append(p.order, m.ID)
	p.mu.Unlock()
	p.changed()

	confirmed, err = p.attempt(ctx, m.ID)
	return m.ID, confirmed, err
}

// Retry re-runs the store write for a failed staged message. Retrying an
// unknown id is a no-op returning nil.
func (p *SendPipeline) Retry(ctx context.Context, tempID string) (*domain.Message, error) {
	p.mu.Lock()
	m, ok := p.staged[tempID]
	if !ok {
		p.mu.Unlock()
		return nil, nil
	}
	m.Status = StatusSending
	p.mu.Unlock()
	p.changed()

	return p.attempt(ctx, tempID)
}

// attempt performs the write for a staged id and reconciles the outcome.
func (p *SendPipeline) attempt(ctx context.Context, tempID string) (*domain.Message, error) {
	p.mu.Lock()
	m, ok := p.staged[tempID]
	if !ok {
		p.mu.Unlock()
		return nil, nil
	}
	chatID, senderID, receiverID, content := m.ChatID, m.SenderID, m.ReceiverID, m.Content
	p.mu.Unlock()

	confirmed, err := p.send(ctx, chatID, senderID, receiverID, content)

	p.mu.Lock()
	if m, ok := p.staged[tempID]; ok {
		if err != nil {
			m.Status = StatusFailed
		} else {
			p.removeLocked(tempID)
		}
	}
	p.mu.Unlock()
	p.changed()

	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// Dismiss drops a staged message (typically a failed one the user gave up on).
func (p *SendPipeline) Dismiss(tempID string) {
	p.mu.Lock()
	_, ok := p.staged[tempID]
	if ok {
		p.removeLocked(tempID)
	}
	p.mu.Unlock()
	if ok {
		p.changed()
	}
}

// Staged returns copies of the staged messages in submission order.
func (p *SendPipeline) Staged() []OptimisticMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OptimisticMessage, 0, len(p.order))
	for _, id := range p.order {
		if m, ok := p.staged[id]; ok {
			out = append(out, *m)
		}
	}
	return out
}

func (p *SendPipeline) removeLocked(tempID string) {
	delete(p.staged, tempID)
	for i, id := range p.order {
		if id == tempID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *SendPipeline) changed() {
	if p.OnChange != nil {
		p.OnChange()
	}
}
