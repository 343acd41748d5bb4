package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"story-summary-ai/internal/domain/entity"
	apperrors "story-summary-ai/pkg/errors"
)

const checkpointKeyPrefix = "summary:checkpoint:"

// CheckpointKey 构建断点键
func CheckpointKey(story string) string {
	return checkpointKeyPrefix + story
}

// CheckpointStore 以 JSON 形式保存每个故事最近一次的断点快照
type CheckpointStore struct {
	client *Client
}

// NewCheckpointStore 创建断点存储
func NewCheckpointStore(client *Client) *CheckpointStore {
	return &CheckpointStore{client: client}
}

// Save 覆盖写入断点
func (s *CheckpointStore) Save(ctx context.Context, cp *entity.Checkpoint) error {
	key := CheckpointKey(cp.Story)
	ctx, span := tracer.Start(ctx, "checkpoint.Save",
		trace.WithAttributes(
			attribute.String("redis.key", key),
			attribute.Int("checkpoint.next_chapter", cp.NextChapter),
		))
	defer span.End()

	payload, err := json.Marshal(cp)
	if err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeCacheError, "marshal checkpoint")
	}
	if err := s.client.rdb.Set(ctx, key, payload, s.client.checkpointTTL()).Err(); err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeCacheError, fmt.Sprintf("save checkpoint %s", key))
	}
	return nil
}

// Load 读取断点，不存在时返回 nil, nil
func (s *CheckpointStore) Load(ctx context.Context, story string) (*entity.Checkpoint, error) {
	key := CheckpointKey(story)
	ctx, span := tracer.Start(ctx, "checkpoint.Load",
		trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	raw, err := s.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if IsNil(err) {
			span.SetAttributes(attribute.Bool("checkpoint.found", false))
			return nil, nil
		}
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeCacheError, fmt.Sprintf("load checkpoint %s", key))
	}

	var cp entity.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeCacheError, "decode checkpoint")
	}
	span.SetAttributes(attribute.Bool("checkpoint.found", true))
	return &cp, nil
}

// Delete 删除断点
func (s *CheckpointStore) Delete(ctx context.Context, story string) error {
	key := CheckpointKey(story)
	ctx, span := tracer.Start(ctx, "checkpoint.Delete",
		trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	if err := s.client.rdb.Del(ctx, key).Err(); err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeCacheError, fmt.Sprintf("delete checkpoint %s", key))
	}
	return nil
}
