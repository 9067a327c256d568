package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/secretaria-go-api/pkg/ai"
)

const assistantSessionPrefix = "assistant:session:"

// SessionStore keeps assistant conversations between requests.
type SessionStore interface {
	Load(ctx context.Context, id string) ([]ai.Message, error)
	Save(ctx context.Context, id string, history []ai.Message) error
}

type redisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore stores conversations as JSON under assistant:session:<id>.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) SessionStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &redisSessionStore{client: client, ttl: ttl}
}

func (s *redisSessionStore) Load(ctx context.Context, id string) ([]ai.Message, error) {
	raw, err := s.client.Get(ctx, assistantSessionPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var history []ai.Message
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *redisSessionStore) Save(ctx context.Context, id string, history []ai.Message) error {
	payload, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, assistantSessionPrefix+id, payload, s.ttl).Err()
}

// trimHistory keeps at most limit messages and drops leading turns until the history
// starts at a user message, so tool replies never lose the call they answer.
func trimHistory(history []ai.Message, limit int) []ai.Message {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	for len(history) > 0 && history[0].Role != ai.RoleUser {
		history = history[1:]
	}
	return history
}
