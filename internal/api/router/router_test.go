package router

import (
	"net/http"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/api/handler"
	"resume-match-go/internal/config"
	"resume-match-go/internal/embedding"
	"resume-match-go/internal/extraction"
	"resume-match-go/internal/pipeline"
)

func newEngine(t *testing.T, auth config.AuthConfig) *server.Hertz {
	t.Helper()
	gen, err := embedding.NewGenerator(nil, "test-model", 8)
	require.NoError(t, err)
	p, err := pipeline.New(pipeline.Components{
		Extractor:  extraction.NewOrchestrator(nil),
		Embeddings: gen,
	})
	require.NoError(t, err)
	hd, err := handler.New(handler.Deps{Pipeline: p})
	require.NoError(t, err)

	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	RegisterRoutes(h, hd, auth)
	return h
}

// 配置了 API Key 时 /api/v1 需要鉴权，健康检查不需要
func TestAPIKeyAuth(t *testing.T) {
	h := newEngine(t, config.AuthConfig{APIKeys: []string{"secret"}, Header: "X-API-Key"})

	resp := ut.PerformRequest(h.Engine, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = ut.PerformRequest(h.Engine, "POST", "/api/v1/skills/reload", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ut.PerformRequest(h.Engine, "POST", "/api/v1/skills/reload", nil,
		ut.Header{Key: "X-API-Key", Value: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ut.PerformRequest(h.Engine, "POST", "/api/v1/skills/reload", nil,
		ut.Header{Key: "X-API-Key", Value: "secret"})
	assert.Equal(t, http.StatusOK, resp.Code)
}

// 未配置 API Key 时不鉴权
func TestNoAuthConfigured(t *testing.T) {
	h := newEngine(t, config.AuthConfig{})
	resp := ut.PerformRequest(h.Engine, "POST", "/api/v1/skills/reload", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}
