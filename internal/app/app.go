package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jisongniu/WeChatRobot/internal/config"
	"github.com/jisongniu/WeChatRobot/internal/logger"
	"github.com/jisongniu/WeChatRobot/internal/mongo"
	"github.com/jisongniu/WeChatRobot/internal/notion"
	"github.com/jisongniu/WeChatRobot/internal/wcf"
	"github.com/jisongniu/WeChatRobot/internal/wechat"
	"github.com/jisongniu/WeChatRobot/internal/wechat/directory"
	"github.com/jisongniu/WeChatRobot/internal/wechat/invite"
	"github.com/jisongniu/WeChatRobot/internal/wechat/ncc"
	"github.com/jisongniu/WeChatRobot/internal/wechat/repository"
	"github.com/jisongniu/WeChatRobot/internal/wechat/welcome"
)

// App 聚合所有组件并管理生命周期
type App struct {
	cfg        *config.Config
	mongo      *mongo.Client
	wcf        *wcf.Client
	cache      *directory.Cache
	dispatcher *ncc.Dispatcher
	robot      *wechat.Robot
	cron       *cron.Cron
}

// New 按依赖顺序组装应用：存储 → 目录缓存 → bridge → 业务模块
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	mongoClient, err := mongo.InitFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init mongodb: %w", err)
	}

	db := mongoClient.Database()
	repos := directory.Repositories{
		Groups:   repository.NewGroupRepository(db),
		Lists:    repository.NewForwardListRepository(db),
		Admins:   repository.NewAdminRepository(db),
		Keywords: repository.NewKeywordRepository(db),
		Welcomes: repository.NewWelcomeMessageRepository(db),
		Txn:      mongoClient.WithTransaction,
	}
	ensureIndexes(ctx, repos)

	notionClient, err := notion.NewClient(cfg.Notion)
	if err != nil {
		_ = mongoClient.Close(ctx)
		return nil, fmt.Errorf("failed to init notion client: %w", err)
	}

	cache := directory.NewCache(notionClient, repos)
	if err := cache.Load(ctx); err != nil {
		_ = mongoClient.Close(ctx)
		return nil, fmt.Errorf("failed to load directory cache: %w", err)
	}
	// 本地库还是空的（首次启动）就立即同步一次，失败不阻塞启动
	if len(cache.AllForwardableGroups()) == 0 {
		if err := cache.Refresh(ctx); err != nil {
			logger.L().Warnf("首次目录同步失败，等待定时任务重试: %v", err)
		}
	}

	if err := os.MkdirAll(cfg.ForwardDataDir, 0o755); err != nil {
		_ = mongoClient.Close(ctx)
		return nil, fmt.Errorf("failed to create forward data dir: %w", err)
	}

	wcfClient, err := wcf.Dial(wcf.Config{
		Addr:       cfg.WcfAddr,
		Token:      cfg.WcfToken,
		Timeout:    cfg.WcfTimeout,
		RatePerSec: cfg.SendRatePerSec,
	})
	if err != nil {
		_ = mongoClient.Close(ctx)
		return nil, fmt.Errorf("failed to connect wcf bridge: %w", err)
	}

	dispatcher := ncc.NewDispatcher(wcfClient, ncc.DefaultPacing(), cache.GroupName)
	manager := ncc.NewManager(cache, wcfClient, wcfClient, dispatcher, cfg.NotionPageURL, cfg.ForwardDataDir)
	welcomeSvc := welcome.NewService(cache, wcfClient)
	inviteSvc := invite.NewService(cache, wcfClient)
	robot := wechat.NewRobot(wcfClient, cache, manager, welcomeSvc, inviteSvc)

	app := &App{
		cfg:        cfg,
		mongo:      mongoClient,
		wcf:        wcfClient,
		cache:      cache,
		dispatcher: dispatcher,
		robot:      robot,
		cron:       cron.New(),
	}

	if _, err := app.cron.AddFunc(cfg.DirectorySyncCron, app.scheduledSync); err != nil {
		app.close(ctx)
		return nil, fmt.Errorf("invalid directory sync cron %q: %w", cfg.DirectorySyncCron, err)
	}

	return app, nil
}

func ensureIndexes(ctx context.Context, repos directory.Repositories) {
	type indexed interface {
		EnsureIndexes(ctx context.Context) error
	}
	for name, repo := range map[string]indexed{
		"groups":           repos.Groups,
		"forward_lists":    repos.Lists,
		"admins":           repos.Admins,
		"keywords":         repos.Keywords,
		"welcome_messages": repos.Welcomes,
	} {
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.L().Warnf("创建 %s 索引失败: %v", name, err)
		}
	}
}

// scheduledSync 定时目录同步，失败留给下一轮
func (a *App) scheduledSync() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := a.cache.Refresh(ctx); err != nil {
		logger.L().Errorf("定时目录同步失败: %v", err)
	}
}

// Run 启动调度器和定时任务，然后阻塞在消息循环上
func (a *App) Run(ctx context.Context) error {
	a.dispatcher.Start(ctx)
	a.cron.Start()
	defer a.close(context.Background())

	err := a.robot.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func (a *App) close(ctx context.Context) {
	cronCtx := a.cron.Stop()
	<-cronCtx.Done()

	a.dispatcher.Stop()
	_ = a.wcf.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.mongo.Close(ctx); err != nil {
		logger.L().Errorf("关闭 MongoDB 连接失败: %v", err)
	}
}
