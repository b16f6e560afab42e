package logger

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Init 配置全局 logrus logger。
// 可以重复调用，后调用的配置会覆盖先前的设置。
func Init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}
	if lvl, err := log.ParseLevel(levelStr); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// L 返回全局 logger
func L() *log.Logger { return log.StandardLogger() }
