package router

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"resume-match-go/internal/api/handler"
	"resume-match-go/internal/config"
)

// RegisterRoutes 注册 API 路由。配置了 API Key 时 /api/v1 需要鉴权。
func RegisterRoutes(h *server.Hertz, hd *handler.Handler, auth config.AuthConfig) {
	h.Use(accessLog())
	h.GET("/health", hd.Health)

	api := h.Group("/api/v1")
	if len(auth.APIKeys) > 0 {
		api.Use(apiKeyAuth(auth))
	}

	api.POST("/resumes/parse", hd.ParseResume)
	api.GET("/resumes/parse/:jobId", hd.GetParseJob)
	api.POST("/resumes/score", hd.ScoreResume)
	api.POST("/resumes/embed", hd.EmbedResume)
	api.POST("/chat", hd.Chat)
	api.POST("/search", hd.Search)
	api.GET("/candidates/:id", hd.GetCandidate)
	api.POST("/skills/reload", hd.ReloadSkills)
}

var errInvalidAPIKey = errors.New("invalid api key")

func apiKeyAuth(auth config.AuthConfig) app.HandlerFunc {
	allowed := make(map[string]struct{}, len(auth.APIKeys))
	for _, k := range auth.APIKeys {
		allowed[k] = struct{}{}
	}
	header := auth.Header
	if header == "" {
		header = "X-API-Key"
	}
	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+header, ""),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			if _, ok := allowed[key]; ok {
				return true, nil
			}
			return false, errInvalidAPIKey
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, handler.ErrorResponse{Error: "未授权", Kind: "unauthorized"})
		}),
	)
}

func accessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		hlog.CtxInfof(ctx, "%s %s status=%d cost=%s",
			string(c.Method()), string(c.Path()), c.Response.StatusCode(), time.Since(start))
	}
}
