package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"resume-match-go/internal/app"
	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
)

// 命令行参数定义
var (
	configPath = flag.String("config", "", "配置文件路径，为空时按默认路径查找")
	maxLen     = flag.Int("maxlen", 1000, "显示的文本最大长度，设为-1显示全部")
	command    = flag.String("cmd", "extract", "执行的命令: extract=仅提取文本, parse=批量解析简历, match=解析后按需求排序")
	timeout    = flag.Duration("timeout", 5*time.Minute, "整体超时")
)

func main() {
	flag.Parse()
	files := flag.Args()
	if len(files) == 0 {
		fmt.Println("错误: 至少需要一个简历文件路径")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch *command {
	case "extract":
		err = runExtract(ctx, files)
	case "parse":
		err = runParse(ctx, files)
	case "match":
		err = runMatch(ctx, files)
	default:
		fmt.Printf("错误: 未知命令 '%s'。支持的命令: extract, parse, match\n", *command)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("执行失败: %v\n", err)
		os.Exit(1)
	}
}

// newApp 离线装配，不连接任何存储
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if _, err := logger.Init(logger.Config{Level: "warn", Format: "pretty", TimeFormat: "15:04:05"}); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, app.Offline())
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen < 0 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "...(已截断，使用 -maxlen 参数显示更多)"
}
