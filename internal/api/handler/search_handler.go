package handler

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"resume-match-go/internal/errs"
	"resume-match-go/internal/types"
)

// ChatRequest 需求对话请求
type ChatRequest struct {
	SessionID string              `json:"sessionId,omitempty"`
	Messages  []types.ChatMessage `json:"messages"`
	Extract   bool                `json:"extract"`
}

// SearchRequest 搜索请求，candidates 缺省时从候选人存储加载候选池
type SearchRequest struct {
	Requirements *types.SearchRequirements `json:"requirements"`
	Candidates   []types.Candidate         `json:"candidates,omitempty"`
}

// Chat 招聘需求对话
// POST /api/v1/chat
func (h *Handler) Chat(ctx context.Context, c *app.RequestContext) {
	var req ChatRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		h.writeError(ctx, c, errs.NewInvalidInputError("chat", "请求体不是合法的 JSON"))
		return
	}
	reply, err := h.deps.Pipeline.Chat(ctx, req.SessionID, req.Messages, req.Extract)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, reply)
}

// Search 按需求对候选人打分排序
// POST /api/v1/search
func (h *Handler) Search(ctx context.Context, c *app.RequestContext) {
	var req SearchRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		h.writeError(ctx, c, errs.NewInvalidInputError("search", "请求体不是合法的 JSON"))
		return
	}
	result, err := h.deps.Pipeline.SearchCandidates(ctx, req.Requirements, req.Candidates)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}

// ReloadSkills 重新加载技能同义词表，失败时保留旧表
// POST /api/v1/skills/reload
func (h *Handler) ReloadSkills(ctx context.Context, c *app.RequestContext) {
	k := h.deps.Pipeline.Knowledge()
	if err := k.Reload(ctx); err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]int{"skills": len(k.Vocabulary())})
}
