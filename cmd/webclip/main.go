package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"webclip/internal/config"
	"webclip/internal/ctxkeys"
	"webclip/internal/logger"
	"webclip/internal/opener"
	api "webclip/pkg/api"
)

const usage = `用法: webclip [-config 文件] <命令> [参数]

命令:
  list                         列出全部站点
  add -name 名称 -url 地址     新增站点
  remove <id>                  删除站点
  move <id> <位置>             调整站点顺序
  icon <id>                    重新抓取站点图标
  import <文件>                导入旧版 JSON 站点列表
  export [文件]                导出站点列表，默认输出到标准输出
  shortcut <id>                启动本地页面用于"添加到主屏幕"
  open <id|深链>               在浏览器引擎中打开站点
`

// main 是命令行入口
func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		color.Red("错误: %v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("webclip", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "配置文件路径 (YAML)")
	logLevel := fs.String("log-level", "", "覆盖配置中的日志级别")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	log := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
	})

	svc, err := api.NewService(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxkeys.WithTraceID(ctx, uuid.NewString())

	app := NewApp(svc, opener.NewSystem(log), os.Stdin, os.Stdout)
	app.ShortcutExpiry = cfg.Responder.ExpiryDuration()
	return app.Run(ctx, fs.Arg(0), fs.Args()[1:])
}
