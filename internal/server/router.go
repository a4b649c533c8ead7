package server

import (
	"net/http"
	"time"

	"github.com/Ensarsahaneren/realtime/internal/auth"
	"github.com/Ensarsahaneren/realtime/internal/chat"
	"github.com/Ensarsahaneren/realtime/internal/config"
	"github.com/Ensarsahaneren/realtime/internal/limiter"
	"github.com/Ensarsahaneren/realtime/internal/metrics"
	"github.com/Ensarsahaneren/realtime/internal/mw"
	"github.com/Ensarsahaneren/realtime/internal/presence"
	"github.com/Ensarsahaneren/realtime/internal/service"
	"github.com/Ensarsahaneren/realtime/internal/store"
	"github.com/Ensarsahaneren/realtime/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点，
// 并把在线注册表的变化接到 users_list 广播上。
func SetupRouter(cfg config.Config, gdb *gorm.DB, reg *presence.Registry, lim *limiter.Limiter) *gin.Engine {
	msgStore := store.NewMessageStore(gdb)
	engine := chat.NewEngine(msgStore, reg)
	userSvc := service.NewUserService(gdb, cfg)
	h := NewHandler(userSvc, engine, msgStore, cfg)

	// 每次上线/下线都向所有连接推送一份在线名单快照。
	reg.OnChange(func(users []presence.UserInfo) {
		reg.BroadcastAll(chat.MarshalUsersList(users))
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, gdb))

	authed.GET("/messages/history/:userID", h.MessageHistory)
	authed.PUT("/messages/status/:id", h.MarkMessageRead)
	authed.PUT("/messages/:id", h.EditMessage)
	authed.DELETE("/messages/:id", h.DeleteMessage)
	authed.POST("/messages/upload-audio", h.UploadAudio)
	authed.GET("/messages/audio/:filename", h.ServeAudio)

	r.GET("/ws", ws.Serve(cfg, gdb, engine, reg, lim))

	return r
}
