package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 应用程序配置
type Config struct {
	WcfAddr           string        // wcferry bridge 的 WebSocket 地址，例如 "ws://127.0.0.1:8080/ws"
	WcfToken          string        // bridge 鉴权 token（可选）
	MongoURI          string        // MongoDB 连接 URI
	MongoDBName       string        // MongoDB 数据库名称
	Notion            NotionConfig  // Notion 目录源配置
	NotionPageURL     string        // 菜单中展示的 Notion 列表页面链接
	DirectorySyncCron string        // 定时同步目录的 cron 表达式
	SendRatePerSec    int           // 全局消息发送速率上限（条/秒）
	ForwardDataDir    string        // 转发图片等内容的本地缓存目录
	WcfTimeout        time.Duration // bridge 单次调用超时
}

// NotionConfig Notion 目录源配置
type NotionConfig struct {
	Token        string        // Notion integration token
	ListsDBID    string        // 转发列表数据库 ID
	GroupsDBID   string        // 群组数据库 ID
	AdminsDBID   string        // 管理员数据库 ID
	KeywordsDBID string        // 关键词数据库 ID
	Timeout      time.Duration // 单次 API 调用超时
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	mongoDBName := os.Getenv("MONGO_DB_NAME")
	if mongoDBName == "" {
		mongoDBName = "wechat_robot"
	}

	cfg := &Config{
		WcfAddr:        strings.TrimSpace(os.Getenv("WCF_ADDR")),
		WcfToken:       strings.TrimSpace(os.Getenv("WCF_TOKEN")),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDBName:    mongoDBName,
		NotionPageURL:  strings.TrimSpace(os.Getenv("NOTION_PAGE_URL")),
		ForwardDataDir: strings.TrimSpace(os.Getenv("FORWARD_DATA_DIR")),
	}

	if cfg.WcfAddr == "" {
		cfg.WcfAddr = "ws://127.0.0.1:8080/ws"
	}
	if cfg.ForwardDataDir == "" {
		cfg.ForwardDataDir = "data/forward"
	}

	// 解析 DIRECTORY_SYNC_CRON（默认每天凌晨 5 点同步一次）
	cfg.DirectorySyncCron = strings.TrimSpace(os.Getenv("DIRECTORY_SYNC_CRON"))
	if cfg.DirectorySyncCron == "" {
		cfg.DirectorySyncCron = "0 5 * * *"
	}

	// 解析 SEND_RATE_PER_SEC（默认 2 条/秒）
	rateStr := strings.TrimSpace(os.Getenv("SEND_RATE_PER_SEC"))
	if rateStr == "" {
		cfg.SendRatePerSec = 2
	} else {
		rate, err := strconv.Atoi(rateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SEND_RATE_PER_SEC: %w", err)
		}
		if rate < 1 {
			return nil, fmt.Errorf("SEND_RATE_PER_SEC must be >= 1, got %d", rate)
		}
		cfg.SendRatePerSec = rate
	}

	// 解析 WCF_TIMEOUT_SECONDS（默认 15 秒）
	if timeoutStr := strings.TrimSpace(os.Getenv("WCF_TIMEOUT_SECONDS")); timeoutStr != "" {
		seconds, err := strconv.Atoi(timeoutStr)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("invalid WCF_TIMEOUT_SECONDS: %s", timeoutStr)
		}
		cfg.WcfTimeout = time.Duration(seconds) * time.Second
	} else {
		cfg.WcfTimeout = 15 * time.Second
	}

	notionCfg, err := loadNotionConfig()
	if err != nil {
		return nil, err
	}
	cfg.Notion = notionCfg

	return cfg, nil
}

func loadNotionConfig() (NotionConfig, error) {
	var cfg NotionConfig

	cfg.Token = strings.TrimSpace(os.Getenv("NOTION_TOKEN"))
	cfg.ListsDBID = strings.TrimSpace(os.Getenv("NOTION_LISTS_DB_ID"))
	cfg.GroupsDBID = strings.TrimSpace(os.Getenv("NOTION_GROUPS_DB_ID"))
	cfg.AdminsDBID = strings.TrimSpace(os.Getenv("NOTION_ADMINS_DB_ID"))
	cfg.KeywordsDBID = strings.TrimSpace(os.Getenv("NOTION_KEYWORDS_DB_ID"))

	if timeoutStr := strings.TrimSpace(os.Getenv("NOTION_TIMEOUT_SECONDS")); timeoutStr != "" {
		seconds, err := strconv.Atoi(timeoutStr)
		if err != nil || seconds <= 0 {
			return NotionConfig{}, fmt.Errorf("invalid NOTION_TIMEOUT_SECONDS: %s", timeoutStr)
		}
		cfg.Timeout = time.Duration(seconds) * time.Second
	} else {
		cfg.Timeout = 30 * time.Second
	}

	return cfg, nil
}
