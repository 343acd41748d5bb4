package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	openaiopts "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"story-summary-ai/internal/domain/entity"
	llmctx "story-summary-ai/internal/domain/service"
	wfmodel "story-summary-ai/internal/workflow/model"
	wfnode "story-summary-ai/internal/workflow/node"
	workflowport "story-summary-ai/internal/workflow/port"
	apperrors "story-summary-ai/pkg/errors"
	"story-summary-ai/pkg/logger"
)

// SummaryChain 摘要流水线的 LLM 调用：抽取阶段输出结构化结果，合并与重写阶段输出纯文本
type SummaryChain struct {
	factory workflowport.ChatModelFactory
	opts    wfmodel.SummaryOptions

	chainOnce sync.Once
	chain     compose.Runnable[*wfmodel.SummaryRequest, *entity.ChapterSummary]
	chainErr  error
}

func NewSummaryChain(factory workflowport.ChatModelFactory, opts wfmodel.SummaryOptions) *SummaryChain {
	return &SummaryChain{factory: factory, opts: opts}
}

// Extract 执行首批/增量抽取，返回本批摘要与更新后的人物介绍
func (c *SummaryChain) Extract(ctx context.Context, req *wfmodel.SummaryRequest) (*entity.ChapterSummary, error) {
	if err := c.check(req); err != nil {
		return nil, err
	}
	chain, err := c.getChain()
	if err != nil {
		return nil, err
	}
	return chain.Invoke(ctx, req)
}

// Complete 执行合并/重写等纯文本阶段
func (c *SummaryChain) Complete(ctx context.Context, req *wfmodel.SummaryRequest) (string, error) {
	if err := c.check(req); err != nil {
		return "", err
	}

	ctx = llmctx.WithWorkflowProvider(ctx, string(req.Prompt), c.opts.Provider)
	chatModel, err := c.factory.Get(ctx, c.opts.Provider)
	if err != nil {
		return "", err
	}

	outMsg, err := chatModel.Generate(ctx, req.Messages, c.modelOptions("", false)...)
	if err != nil {
		return "", err
	}
	if outMsg == nil || strings.TrimSpace(outMsg.Content) == "" {
		return "", apperrors.Wrap(fmt.Errorf("empty llm response"), apperrors.CodeInvalidResponse, string(req.Prompt))
	}
	return strings.TrimSpace(outMsg.Content), nil
}

func (c *SummaryChain) check(req *wfmodel.SummaryRequest) error {
	if c == nil || c.factory == nil {
		return fmt.Errorf("llm factory not configured")
	}
	if req == nil || len(req.Messages) == 0 {
		return fmt.Errorf("summary request is empty")
	}
	return nil
}

type summaryChainState struct {
	Req    *wfmodel.SummaryRequest
	OutMsg *schema.Message
}

func (c *SummaryChain) getChain() (compose.Runnable[*wfmodel.SummaryRequest, *entity.ChapterSummary], error) {
	c.chainOnce.Do(func() {
		c.chain, c.chainErr = c.buildChain(context.Background())
	})
	return c.chain, c.chainErr
}

func (c *SummaryChain) buildChain(ctx context.Context) (compose.Runnable[*wfmodel.SummaryRequest, *entity.ChapterSummary], error) {
	chain := compose.NewChain[*wfmodel.SummaryRequest, *entity.ChapterSummary]()

	chain.AppendLambda(
		compose.InvokableLambda(func(ctx context.Context, req *wfmodel.SummaryRequest) (*summaryChainState, error) {
			ctx = llmctx.WithWorkflowProvider(ctx, string(req.Prompt), c.opts.Provider)
			chatModel, err := c.factory.Get(ctx, c.opts.Provider)
			if err != nil {
				return nil, err
			}

			outMsg, err := chatModel.Generate(ctx, req.Messages, c.modelOptions(string(req.Prompt), true)...)
			if err != nil && wfnode.IsResponseFormatUnsupportedError(err) {
				logger.Warn(ctx, "llm json_schema not supported, fallback to prompt-only",
					"provider", c.opts.Provider,
					"model", c.opts.Model,
					"prompt", string(req.Prompt),
					"error", err.Error(),
				)
				outMsg, err = chatModel.Generate(ctx, req.Messages, c.modelOptions(string(req.Prompt), false)...)
			}
			if err != nil {
				return nil, err
			}
			if outMsg == nil {
				return nil, apperrors.Wrap(fmt.Errorf("empty llm response"), apperrors.CodeInvalidResponse, string(req.Prompt))
			}
			return &summaryChainState{Req: req, OutMsg: outMsg}, nil
		}),
		compose.WithNodeName("summary.llm"),
	)

	chain.AppendLambda(
		compose.InvokableLambda(func(ctx context.Context, st *summaryChainState) (*entity.ChapterSummary, error) {
			out, ok := wfnode.ParseChapterSummary(st.OutMsg.Content)
			if !ok {
				logger.Warn(ctx, "llm response is not a structured summary",
					"prompt", string(st.Req.Prompt),
					"content", wfnode.Excerpt(st.OutMsg.Content, 200),
				)
				return nil, apperrors.Wrap(fmt.Errorf("no structured summary in llm response"), apperrors.CodeInvalidResponse, string(st.Req.Prompt))
			}
			if out.Characters == "" {
				logger.Warn(ctx, "llm response has no character list",
					"prompt", string(st.Req.Prompt),
					"content", wfnode.Excerpt(st.OutMsg.Content, 200),
				)
			}
			return out, nil
		}),
		compose.WithNodeName("summary.parse"),
	)

	return chain.Compile(ctx)
}

func (c *SummaryChain) modelOptions(schemaName string, enableSchema bool) []model.Option {
	opts := make([]model.Option, 0, 4)

	if c.opts.Temperature != nil {
		opts = append(opts, model.WithTemperature(*c.opts.Temperature))
	}
	if c.opts.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*c.opts.MaxTokens))
	}
	if m := strings.TrimSpace(c.opts.Model); m != "" {
		opts = append(opts, model.WithModel(m))
	}

	if enableSchema {
		opts = append(opts, openaiopts.WithExtraFields(map[string]any{
			"response_format": map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   schemaName,
					"strict": false,
					"schema": chapterSummaryJSONSchema(),
				},
			},
		}))
	}

	return opts
}

func chapterSummaryJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"characters", "summary"},
		"properties": map[string]any{
			"characters": map[string]any{
				"type":        "string",
				"description": "One character per line, as 'Name: short introduction'",
			},
			"summary": map[string]any{"type": "string"},
		},
	}
}
