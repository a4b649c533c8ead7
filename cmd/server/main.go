package main

import (
	"time"

	"github.com/Ensarsahaneren/realtime/internal/config"
	"github.com/Ensarsahaneren/realtime/internal/db"
	"github.com/Ensarsahaneren/realtime/internal/limiter"
	clog "github.com/Ensarsahaneren/realtime/internal/log"
	"github.com/Ensarsahaneren/realtime/internal/presence"
	"github.com/Ensarsahaneren/realtime/internal/server"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	reg := presence.NewRegistry()
	lim := limiter.New(time.Duration(cfg.RateLimitWindowSecs)*time.Second, cfg.RateLimitMaxMessages)
	r := server.SetupRouter(cfg, gdb, reg, lim)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
