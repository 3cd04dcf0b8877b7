package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartclass/backend/internal/storage/models"
)

const sessionPrefix = "chat:session:"

// SessionStore keeps each chat history in a Redis list. Trim and append run in one
// MULTI/EXEC so concurrent asks on the same key cannot interleave.
type SessionStore struct {
	client *redis.Client
	limit  int
	ttl    time.Duration
}

func (c *Client) Sessions(limit int, ttl time.Duration) *SessionStore {
	if limit <= 0 {
		limit = 20
	}
	return &SessionStore{client: c.client, limit: limit, ttl: ttl}
}

func (s *SessionStore) appendTurns(ctx context.Context, pipe redis.Pipeliner, key string, turns ...models.ChatTurn) error {
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("failed to marshal chat turn: %w", err)
		}
		pipe.LTrim(ctx, key, int64(-s.limit), -1)
		pipe.RPush(ctx, key, data)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	return nil
}

func (s *SessionStore) AppendUser(ctx context.Context, key, message string) ([]models.ChatTurn, error) {
	key = sessionPrefix + key

	var rangeCmd *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := s.appendTurns(ctx, pipe, key, models.ChatTurn{Role: models.RoleUser, Message: message}); err != nil {
			return err
		}
		rangeCmd = pipe.LRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append user turn: %w", err)
	}

	return decodeTurns(rangeCmd.Val())
}

func (s *SessionStore) AppendAssistant(ctx context.Context, key, message string) error {
	key = sessionPrefix + key

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.appendTurns(ctx, pipe, key, models.ChatTurn{Role: models.RoleAssistant, Message: message})
	})
	if err != nil {
		return fmt.Errorf("failed to append assistant turn: %w", err)
	}
	return nil
}

func (s *SessionStore) AppendExchange(ctx context.Context, key, question, answer string) error {
	key = sessionPrefix + key

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.appendTurns(ctx, pipe, key,
			models.ChatTurn{Role: models.RoleUser, Message: question},
			models.ChatTurn{Role: models.RoleAssistant, Message: answer},
		)
	})
	if err != nil {
		return fmt.Errorf("failed to append chat exchange: %w", err)
	}
	return nil
}

func (s *SessionStore) Snapshot(ctx context.Context, key string) ([]models.ChatTurn, error) {
	vals, err := s.client.LRange(ctx, sessionPrefix+key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat session: %w", err)
	}
	return decodeTurns(vals)
}

func decodeTurns(vals []string) ([]models.ChatTurn, error) {
	turns := make([]models.ChatTurn, 0, len(vals))
	for _, v := range vals {
		var turn models.ChatTurn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
