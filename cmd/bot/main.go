package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jisongniu/WeChatRobot/internal/app"
	"github.com/jisongniu/WeChatRobot/internal/config"
	"github.com/jisongniu/WeChatRobot/internal/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatalf("配置加载失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.L().Fatalf("应用初始化失败: %v", err)
	}

	logger.L().Info("WeChatRobot 启动")
	if err := application.Run(ctx); err != nil {
		logger.L().Errorf("应用退出: %v", err)
		os.Exit(1)
	}
	logger.L().Info("WeChatRobot 已停止")
}
