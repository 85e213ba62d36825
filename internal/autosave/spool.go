package autosave

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// SpooledAnswer is a write that failed after every retry.
type SpooledAnswer struct {
	QuestionID   int64              `json:"question_id"`
	QuestionType model.QuestionType `json:"question_type"`
	Value        json.RawMessage    `json:"value"`
	FailedAt     time.Time          `json:"failed_at"`
}

// Spool keeps unsaved answers of one student's exam until a write succeeds.
type Spool interface {
	Put(ctx context.Context, rec SpooledAnswer) error
	Remove(ctx context.Context, questionID int64) error
	Load(ctx context.Context) ([]SpooledAnswer, error)
	Clear(ctx context.Context) error
}

// MemorySpool is a process-local Spool.
type MemorySpool struct {
	mu      sync.Mutex
	records map[int64]SpooledAnswer
}

// NewMemorySpool creates an empty MemorySpool.
func NewMemorySpool() *MemorySpool {
	return &MemorySpool{records: make(map[int64]SpooledAnswer)}
}

func (s *MemorySpool) Put(_ context.Context, rec SpooledAnswer) error {
	s.mu.Lock()
	s.records[rec.QuestionID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemorySpool) Remove(_ context.Context, questionID int64) error {
	s.mu.Lock()
	delete(s.records, questionID)
	s.mu.Unlock()
	return nil
}

// Load returns the spooled records ordered by question id.
func (s *MemorySpool) Load(_ context.Context) ([]SpooledAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SpooledAnswer, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sortByQuestion(out)
	return out, nil
}

func (s *MemorySpool) Clear(_ context.Context) error {
	s.mu.Lock()
	clear(s.records)
	s.mu.Unlock()
	return nil
}

// spoolTTL bounds how long an abandoned session's answers stay in Redis.
const spoolTTL = 24 * time.Hour

// RedisSpool stores unsaved answers in a Redis hash keyed by question id.
type RedisSpool struct {
	rdb *redis.Client
	key string
}

// NewRedisSpool creates a spool for one student's exam.
func NewRedisSpool(rdb *redis.Client, examID uuid.UUID, userID int) *RedisSpool {
	return &RedisSpool{
		rdb: rdb,
		key: config.CacheKey.PendingAnswersKey(examID.String(), userID),
	}
}

func (s *RedisSpool) Put(ctx context.Context, rec SpooledAnswer) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal spooled answer: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.key, strconv.FormatInt(rec.QuestionID, 10), data)
	pipe.Expire(ctx, s.key, spoolTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("spool answer: %w", err)
	}
	return nil
}

func (s *RedisSpool) Remove(ctx context.Context, questionID int64) error {
	if err := s.rdb.HDel(ctx, s.key, strconv.FormatInt(questionID, 10)).Err(); err != nil {
		return fmt.Errorf("unspool answer: %w", err)
	}
	return nil
}

func (s *RedisSpool) Load(ctx context.Context) ([]SpooledAnswer, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load spool: %w", err)
	}

	out := make([]SpooledAnswer, 0, len(fields))
	for field, data := range fields {
		var rec SpooledAnswer
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode spooled answer %s: %w", field, err)
		}
		out = append(out, rec)
	}
	sortByQuestion(out)
	return out, nil
}

// Clear drops every spooled answer once the exam is finished.
func (s *RedisSpool) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}

func sortByQuestion(recs []SpooledAnswer) {
	slices.SortFunc(recs, func(a, b SpooledAnswer) int {
		switch {
		case a.QuestionID < b.QuestionID:
			return -1
		case a.QuestionID > b.QuestionID:
			return 1
		}
		return 0
	})
}
