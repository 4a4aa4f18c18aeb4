package rag_query

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/pkg/logger"
	"github.com/chongs12/learning-rag/pkg/middleware"
)

type Handler struct {
	query *QueryService
	ask   *AskService
}

// NewHandler 创建处理器；ask 为 nil 时只提供检索，生成接口返回 503
func NewHandler(query *QueryService, ask *AskService) *Handler {
	return &Handler{query: query, ask: ask}
}

type QueryRequest struct {
	Question  string `json:"question" binding:"required"`
	SubjectID string `json:"subject_id"`
}

type AskBody struct {
	Question    string  `json:"question" binding:"required"`
	SubjectID   string  `json:"subject_id"`
	SessionID   string  `json:"session_id"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

func (b AskBody) request() *AskRequest {
	return &AskRequest{
		Question:    b.Question,
		SubjectID:   b.SubjectID,
		SessionID:   b.SessionID,
		Temperature: b.Temperature,
		MaxTokens:   b.MaxTokens,
	}
}

// errorStatus 将查询错误映射为 HTTP 状态码；未命中不算错误
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrQueryTimeout):
		return http.StatusGatewayTimeout
	case errs.IsEmbedding(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, msg string, err error) {
	status := errorStatus(err)
	logger.WithFieldsCtx(c.Request.Context(), logrus.Fields{
		"error":  err.Error(),
		"status": status,
	}).Error(msg)
	body := gin.H{"error": msg}
	if status == http.StatusGatewayTimeout {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

// Query 只返回排序后的片段，不生成答案
func (h *Handler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	res, err := h.query.Query(c.Request.Context(), middleware.UserID(c), req.Question, req.SubjectID)
	if err != nil {
		fail(c, "rag query failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"passages":      res.Passages,
		"found":         res.Found,
		"fallback_used": res.FallbackUsed,
		"degraded":      res.Degraded,
		"scope":         res.Scope,
		"latency_ms":    time.Since(start).Milliseconds(),
	})
}

func (h *Handler) Ask(c *gin.Context) {
	if h.ask == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "answer generation is not configured"})
		return
	}
	var body AskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	ans, err := h.ask.Ask(c.Request.Context(), middleware.UserID(c), body.request())
	if err != nil {
		fail(c, "rag ask failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"answer":     ans.Answer,
		"passages":   ans.Passages,
		"found":      ans.Found,
		"degraded":   ans.Degraded,
		"usage":      ans.Usage,
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

// AskStream 以 SSE 流式返回：先发送一个 passages 事件，再发送 token 事件，最后是 done 或 error
func (h *Handler) AskStream(c *gin.Context) {
	if h.ask == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "answer generation is not configured"})
		return
	}
	var body AskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	stream, err := h.ask.AskStream(ctx, middleware.UserID(c), body.request())
	if err != nil {
		fail(c, "rag ask failed", err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.SSEvent("passages", gin.H{"passages": stream.Result.Passages, "found": stream.Result.Found})
	c.Writer.Flush()

	heartbeat := time.NewTicker(5 * time.Second)
	defer heartbeat.Stop()
	tokens, errc := stream.Tokens, stream.Err
	for {
		select {
		case tok, ok := <-tokens:
			if !ok {
				// Err 先于 Tokens 关闭，这里不会阻塞
				if errc == nil {
					c.SSEvent("done", gin.H{"found": stream.Result.Found})
					c.Writer.Flush()
					return
				}
				if err, failed := <-errc; failed && err != nil {
					c.SSEvent("error", gin.H{"error": err.Error()})
					c.Writer.Flush()
					return
				}
				c.SSEvent("done", gin.H{"found": stream.Result.Found})
				c.Writer.Flush()
				return
			}
			c.SSEvent("token", tok)
			c.Writer.Flush()
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			logger.WithFieldsCtx(ctx, logrus.Fields{"error": err.Error()}).Error("rag stream failed")
			c.SSEvent("error", gin.H{"error": err.Error()})
			c.Writer.Flush()
			return
		case <-heartbeat.C:
			c.SSEvent("ping", "heartbeat")
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) SetupRoutes(router gin.IRouter, authMiddleware *middleware.AuthMiddleware) {
	group := router.Group("/api/v1/rag")
	group.Use(authMiddleware.RequireAuth())
	group.POST("/query", h.Query)
	group.POST("/ask", h.Ask)
	group.POST("/ask/stream", h.AskStream)
}
