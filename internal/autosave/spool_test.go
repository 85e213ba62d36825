package autosave

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/model"
)

func TestRedisSpool(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := t.Context()
	s := NewRedisSpool(rdb, uuid.New(), 42)
	t.Cleanup(func() { _ = s.Clear(context.Background()) })

	require.NoError(t, s.Put(ctx, SpooledAnswer{QuestionID: 9, QuestionType: model.QuestionTypeMatching, Value: json.RawMessage(`[{"prompt_id":1,"target_id":2}]`)}))
	require.NoError(t, s.Put(ctx, SpooledAnswer{QuestionID: 4, QuestionType: model.QuestionTypeFillBlank, Value: json.RawMessage(`"x"`)}))

	recs, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(4), recs[0].QuestionID)
	assert.Equal(t, model.QuestionTypeMatching, recs[1].QuestionType)

	ttl, err := rdb.TTL(ctx, s.key).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)

	require.NoError(t, s.Remove(ctx, 4))
	recs, err = s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(9), recs[0].QuestionID)
}
