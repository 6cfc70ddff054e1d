package readmodel

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a Store for tests and dev.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
	messages      map[string]Message
	chunks        map[string]Chunk
	toolCalls     map[string]ToolCall
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	s.reset()
	return s
}

func (s *InMemoryStore) reset() {
	s.conversations = map[string]Conversation{}
	s.messages = map[string]Message{}
	s.chunks = map[string]Chunk{}
	s.toolCalls = map[string]ToolCall{}
}

func (s *InMemoryStore) GetConversation(_ context.Context, streamID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[streamID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *InMemoryStore) SaveConversation(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.StreamID] = *c
	return nil
}

func (s *InMemoryStore) StaleStreaming(_ context.Context, olderThan time.Time) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Conversation
	for _, c := range s.conversations {
		if c.Status == "streaming" && c.UpdatedAt.Before(olderThan) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetMessage(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *InMemoryStore) SaveMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = *m
	return nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, streamID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.messages {
		if m.StreamID == streamID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *InMemoryStore) DeleteMessagesFrom(_ context.Context, streamID string, fromPosition int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.messages {
		if m.StreamID == streamID && m.Position >= fromPosition {
			delete(s.messages, id)
		}
	}
	return nil
}

func (s *InMemoryStore) SaveChunk(_ context.Context, c *Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[c.ID] = *c
	return nil
}

func (s *InMemoryStore) ListChunks(_ context.Context, messageID string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Chunk
	for _, c := range s.chunks {
		if c.MessageID == messageID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *InMemoryStore) DeleteChunks(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.MessageID == messageID {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *InMemoryStore) GetToolCall(_ context.Context, id string) (*ToolCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.toolCalls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tc, nil
}

func (s *InMemoryStore) SaveToolCall(_ context.Context, tc *ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls[tc.ID] = *tc
	return nil
}

func (s *InMemoryStore) TruncateAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

var _ Store = (*InMemoryStore)(nil)
