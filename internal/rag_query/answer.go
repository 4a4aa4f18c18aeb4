package rag_query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/pkg/logger"
)

const systemPrompt = "You are a study assistant answering questions about the learner's own materials. " +
	"Answer strictly from the provided context and cite passages by their number. " +
	"If the context is empty or does not contain the answer, say so plainly before giving any general guidance."

type AskRequest struct {
	Question    string
	SubjectID   string
	SessionID   string
	Temperature float32
	MaxTokens   int
}

type Answer struct {
	Answer   string         `json:"answer"`
	Passages []Passage      `json:"passages"`
	Found    bool           `json:"found"`
	Degraded bool           `json:"degraded,omitempty"`
	Usage    map[string]int `json:"usage,omitempty"`
}

// History 保存会话轮次，实现可以丢弃较早的轮次
type History interface {
	Load(ctx context.Context, tenantID, sessionID string) []*schema.Message
	Append(ctx context.Context, tenantID, sessionID string, msgs ...*schema.Message)
}

// AskService 基于 QueryService 检索到的片段，用 ChatModel 生成答案
type AskService struct {
	query       *QueryService
	chat        model.BaseChatModel
	history     History
	temperature float32
	maxTokens   int
}

func NewAskService(query *QueryService, chat model.BaseChatModel, history History, temperature float32, maxTokens int) *AskService {
	return &AskService{query: query, chat: chat, history: history, temperature: temperature, maxTokens: maxTokens}
}

func (s *AskService) Ask(ctx context.Context, tenantID string, req *AskRequest) (*Answer, error) {
	res, msgs, err := s.prepare(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	resp, err := s.chat.Generate(ctx, msgs, s.options(req)...)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	usage := map[string]int{}
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		usage["prompt_tokens"] = resp.ResponseMeta.Usage.PromptTokens
		usage["completion_tokens"] = resp.ResponseMeta.Usage.CompletionTokens
		usage["total_tokens"] = resp.ResponseMeta.Usage.TotalTokens
	}

	s.remember(ctx, tenantID, req, resp.Content)
	return &Answer{
		Answer:   resp.Content,
		Passages: res.Passages,
		Found:    res.Found,
		Degraded: res.Degraded,
		Usage:    usage,
	}, nil
}

// StreamAnswer 增量返回答案：生成结束时关闭 Tokens，Err 最多收到一个错误
type StreamAnswer struct {
	Result *Result
	Tokens <-chan string
	Err    <-chan error
}

func (s *AskService) AskStream(ctx context.Context, tenantID string, req *AskRequest) (*StreamAnswer, error) {
	res, msgs, err := s.prepare(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}
	sr, err := s.chat.Stream(ctx, msgs, s.options(req)...)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	out := make(chan string, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		defer sr.Close()

		var final strings.Builder
		for {
			m, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errc <- err
				return
			}
			if m == nil || m.Content == "" {
				continue
			}
			select {
			case out <- m.Content:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
			final.WriteString(m.Content)
		}
		s.remember(ctx, tenantID, req, final.String())
	}()

	return &StreamAnswer{Result: res, Tokens: out, Err: errc}, nil
}

func (s *AskService) prepare(ctx context.Context, tenantID string, req *AskRequest) (*Result, []*schema.Message, error) {
	res, err := s.query.Query(ctx, tenantID, req.Question, req.SubjectID)
	if err != nil {
		return nil, nil, err
	}

	var history []*schema.Message
	if s.history != nil && req.SessionID != "" {
		history = s.history.Load(ctx, tenantID, req.SessionID)
	}
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(systemPrompt))
	msgs = append(msgs, history...)
	msgs = append(msgs, schema.UserMessage(buildPrompt(req.Question, res)))

	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type":    "rag_ask",
		"found":         res.Found,
		"history_turns": len(history),
	}).Debug("prompt assembled")
	return res, msgs, nil
}

func buildPrompt(question string, res *Result) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\nContext:\n")
	if errors.Is(res.Err(), errs.ErrNoContext) {
		sb.WriteString("(no relevant material was found in the learner's documents)\n")
		return sb.String()
	}
	for i, p := range res.Passages {
		fmt.Fprintf(&sb, "[%d] (score %.3f) %s\n", i+1, p.Score, p.Text)
	}
	return sb.String()
}

func (s *AskService) options(req *AskRequest) []model.Option {
	temperature := s.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := s.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	var opts []model.Option
	if temperature > 0 {
		opts = append(opts, model.WithTemperature(temperature))
	}
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}
	return opts
}

func (s *AskService) remember(ctx context.Context, tenantID string, req *AskRequest, answer string) {
	if s.history == nil || req.SessionID == "" {
		return
	}
	s.history.Append(ctx, tenantID, req.SessionID,
		schema.UserMessage(req.Question),
		schema.AssistantMessage(answer, nil),
	)
}
