package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"story-summary-ai/internal/domain/entity"
	apperrors "story-summary-ai/pkg/errors"
)

const resultKeyPrefix = "summary:result:"

// ResultKey 构建摘要结果键
func ResultKey(story string) string {
	return resultKeyPrefix + story
}

// ResultStore 保存每个故事最近一次完成的摘要
type ResultStore struct {
	client *Client
	group  singleflight.Group
}

// NewResultStore 创建结果存储
func NewResultStore(client *Client) *ResultStore {
	return &ResultStore{client: client}
}

// Save 写入结果
func (s *ResultStore) Save(ctx context.Context, res *entity.SummaryResult) error {
	key := ResultKey(res.Story)
	ctx, span := tracer.Start(ctx, "result.Save",
		trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	payload, err := json.Marshal(res)
	if err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeCacheError, "marshal summary result")
	}
	if err := s.client.rdb.Set(ctx, key, payload, s.client.resultTTL()).Err(); err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeCacheError, fmt.Sprintf("save summary result %s", key))
	}
	return nil
}

// Get 读取结果，不存在时返回 ErrNotFound；并发读取同一故事时合并为一次 Redis 请求
func (s *ResultStore) Get(ctx context.Context, story string) (*entity.SummaryResult, error) {
	key := ResultKey(story)
	ctx, span := tracer.Start(ctx, "result.Get",
		trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		raw, err := s.client.rdb.Get(ctx, key).Bytes()
		if err != nil {
			if IsNil(err) {
				return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("no summary result for %s", story))
			}
			return nil, apperrors.Wrap(err, apperrors.CodeCacheError, fmt.Sprintf("load summary result %s", key))
		}
		var res entity.SummaryResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeCacheError, "decode summary result")
		}
		return &res, nil
	})
	span.SetAttributes(attribute.Bool("result.shared", shared))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// 共享结果需要拷贝，避免调用方互相修改
	res := *v.(*entity.SummaryResult)
	return &res, nil
}
