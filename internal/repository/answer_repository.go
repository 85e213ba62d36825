package repository

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

// answersTTL bounds how long stored answers outlive an exam window.
const answersTTL = 48 * time.Hour

// AnswerRepository stores the latest answer per question of one student's
// attempt. Save overwrites.
type AnswerRepository interface {
	Save(ctx context.Context, examID uuid.UUID, studentID int, rec model.AnswerRecord) error
	List(ctx context.Context, examID uuid.UUID, studentID int) ([]model.AnswerRecord, error)
}

type attemptKey struct {
	examID    uuid.UUID
	studentID int
}

// MemoryAnswerRepository keeps answers in process memory.
type MemoryAnswerRepository struct {
	mu      sync.RWMutex
	answers map[attemptKey]map[int64]model.AnswerRecord
}

// NewMemoryAnswerRepository creates an empty MemoryAnswerRepository.
func NewMemoryAnswerRepository() *MemoryAnswerRepository {
	return &MemoryAnswerRepository{answers: make(map[attemptKey]map[int64]model.AnswerRecord)}
}

func (r *MemoryAnswerRepository) Save(_ context.Context, examID uuid.UUID, studentID int, rec model.AnswerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := attemptKey{examID, studentID}
	m, ok := r.answers[k]
	if !ok {
		m = make(map[int64]model.AnswerRecord)
		r.answers[k] = m
	}
	rec.Value = slices.Clone(rec.Value)
	m[rec.QuestionID] = rec
	return nil
}

func (r *MemoryAnswerRepository) List(_ context.Context, examID uuid.UUID, studentID int) ([]model.AnswerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.answers[attemptKey{examID, studentID}]
	out := make([]model.AnswerRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

// RedisAnswerRepository keeps each attempt's answers in one hash keyed by
// question id.
type RedisAnswerRepository struct {
	rdb *redis.Client
}

// NewRedisAnswerRepository creates a RedisAnswerRepository.
func NewRedisAnswerRepository(rdb *redis.Client) *RedisAnswerRepository {
	return &RedisAnswerRepository{rdb: rdb}
}

func (r *RedisAnswerRepository) Save(ctx context.Context, examID uuid.UUID, studentID int, rec model.AnswerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	key := config.CacheKey.StudentAnswersKey(examID.String(), studentID)

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, strconv.FormatInt(rec.QuestionID, 10), data)
	pipe.Expire(ctx, key, answersTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

func (r *RedisAnswerRepository) List(ctx context.Context, examID uuid.UUID, studentID int) ([]model.AnswerRecord, error) {
	key := config.CacheKey.StudentAnswersKey(examID.String(), studentID)
	raw, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	out := make([]model.AnswerRecord, 0, len(raw))
	for field, v := range raw {
		var rec model.AnswerRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", field, err)
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(recs []model.AnswerRecord) {
	slices.SortFunc(recs, func(a, b model.AnswerRecord) int {
		switch {
		case a.QuestionID < b.QuestionID:
			return -1
		case a.QuestionID > b.QuestionID:
			return 1
		}
		return 0
	})
}
