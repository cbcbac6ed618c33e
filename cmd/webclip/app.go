package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"webclip/internal/bridge"
	"webclip/internal/shortcut"
	api "webclip/pkg/api"
	"webclip/pkg/model"
)

// App 命令行应用状态与业务逻辑封装
type App struct {
	svc    api.Service
	opener bridge.Opener
	in     io.Reader

	mu  sync.Mutex
	out io.Writer

	// ShortcutExpiry shortcut 命令的最长等待时间
	ShortcutExpiry time.Duration
}

// NewApp 创建应用实例
func NewApp(svc api.Service, o bridge.Opener, in io.Reader, out io.Writer) *App {
	return &App{svc: svc, opener: o, in: in, out: out, ShortcutExpiry: 300 * time.Second}
}

// Run 执行子命令
func (a *App) Run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "list", "ls":
		return a.List(ctx)
	case "add":
		return a.Add(ctx, args)
	case "remove", "rm":
		return a.withID(args, func(id model.SiteID) error { return a.svc.RemoveSite(ctx, id) })
	case "move":
		if len(args) != 2 {
			return fmt.Errorf("用法: move <id> <位置>")
		}
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("位置必须是整数: %w", err)
		}
		return a.withID(args[:1], func(id model.SiteID) error { return a.svc.MoveSite(ctx, id, index) })
	case "icon":
		return a.withID(args, func(id model.SiteID) error {
			ok, err := a.svc.RefreshIcon(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				a.printf("%s\n", color.GreenString("图标已更新"))
			} else {
				a.printf("%s\n", color.YellowString("未找到可用图标"))
			}
			return nil
		})
	case "import":
		return a.Import(ctx, args)
	case "export":
		return a.Export(ctx, args)
	case "shortcut":
		return a.Shortcut(ctx, args)
	case "open":
		return a.Open(ctx, args)
	}
	return fmt.Errorf("未知命令 %q", cmd)
}

// List 打印站点列表
func (a *App) List(ctx context.Context) error {
	sites, err := a.svc.ListSites(ctx)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		a.printf("暂无站点\n")
		return nil
	}
	for i, s := range sites {
		var flags []string
		if !s.EnableJavaScript {
			flags = append(flags, "no-js")
		}
		if s.EnableToolScheme {
			flags = append(flags, "tool-scheme")
		}
		if s.EnableFullScreen {
			flags = append(flags, "fullscreen")
		}
		if len(s.Icon) > 0 {
			flags = append(flags, "icon")
		}
		a.printf("%2d  %s  %s  %s", i, s.ID, color.CyanString(s.Name), s.URL)
		if len(flags) > 0 {
			a.printf("  [%s]", strings.Join(flags, ","))
		}
		a.printf("\n")
	}
	return nil
}

// Add 解析参数并新增站点
func (a *App) Add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(a.out)
	name := fs.String("name", "", "站点名称")
	rawURL := fs.String("url", "", "站点地址")
	js := fs.Bool("js", true, "启用 JavaScript")
	inline := fs.Bool("inline-media", true, "允许内联播放媒体")
	tool := fs.Bool("tool-scheme", false, "将协作工具 scheme 交给系统处理")
	full := fs.Bool("fullscreen", false, "全屏显示")
	ua := fs.String("ua", "", "自定义 User-Agent")
	orientation := fs.String("orientation", string(model.OrientationAutomatic), "方向锁定 automatic|portrait|landscape")
	colorHex := fs.String("color", "007AFF", "图标颜色")
	if err := fs.Parse(args); err != nil {
		return err
	}

	site := model.NewSite(strings.TrimSpace(*name), strings.TrimSpace(*rawURL))
	site.EnableJavaScript = *js
	site.AllowInlineMedia = *inline
	site.EnableToolScheme = *tool
	site.EnableFullScreen = *full
	site.UserAgent = *ua
	site.OrientationLock = model.OrientationLock(*orientation)
	site.IconColorHex = *colorHex

	site, err := a.svc.AddSite(ctx, site)
	if err != nil {
		return err
	}
	a.printf("%s %s\n", color.GreenString("已添加"), site.ID)
	a.printf("深链: %s\n", a.svc.DeepLink(site.ID))
	return nil
}

// Import 导入旧版 JSON
func (a *App) Import(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("用法: import <文件>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	n, err := a.svc.ImportJSON(ctx, data)
	if err != nil {
		return err
	}
	a.printf("已导入 %d 个站点\n", n)
	return nil
}

// Export 导出 JSON 到文件或标准输出
func (a *App) Export(ctx context.Context, args []string) error {
	data, err := a.svc.ExportJSON(ctx)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		a.printf("%s\n", data)
		return nil
	}
	return os.WriteFile(args[0], data, 0o644)
}

// Shortcut 启动本地页面并交给系统浏览器，直到过期或收到中断信号
func (a *App) Shortcut(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("shortcut", flag.ContinueOnError)
	fs.SetOutput(a.out)
	save := fs.String("save", "", "同时把页面写入该目录")
	noBrowser := fs.Bool("no-browser", false, "不自动打开系统浏览器")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := a.resolveID(fs.Args())
	if err != nil {
		return err
	}
	site, err := a.svc.GetSite(ctx, id)
	if err != nil {
		return err
	}

	u, err := a.svc.CreateShortcut(ctx, id)
	if err != nil {
		return err
	}
	defer a.svc.StopShortcut()

	if *save != "" {
		page, err := shortcut.Render(site, a.svc.DeepLink(id))
		if err != nil {
			return err
		}
		path := filepath.Join(*save, shortcut.FileName(site))
		if err := os.WriteFile(path, page, 0o644); err != nil {
			return err
		}
		a.printf("页面已保存到 %s\n", path)
	}
	if shortcutsURL, err := a.svc.ShortcutsAppURL(ctx, id); err == nil {
		a.printf("快捷指令: %s\n", shortcutsURL)
	}
	a.printf("%s %s\n", color.GreenString("快捷方式页面:"), u)
	if !*noBrowser && a.opener != nil {
		if err := a.opener.Open(ctx, u); err != nil {
			a.printf("%s\n", color.YellowString("无法打开浏览器: %v", err))
		}
	}

	timer := time.NewTimer(a.ShortcutExpiry)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		a.printf("页面已过期\n")
	}
	return nil
}

// Open 打开站点并从输入读取导航指令
func (a *App) Open(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("用法: open <id|深链>")
	}
	var id model.SiteID
	if strings.Contains(args[0], "://") {
		site, ok := a.svc.HandleDeepLink(ctx, args[0])
		if !ok {
			return fmt.Errorf("无法识别的深链 %q", args[0])
		}
		id = site.ID
	} else {
		var err error
		if id, err = a.resolveID(args); err != nil {
			return err
		}
	}

	b, err := a.svc.OpenSite(ctx, id)
	if err != nil {
		return err
	}
	defer a.svc.CloseSite(id)

	// 等待已排队的状态发布完成后再订阅，避免重复输出
	if err := a.svc.Loop().Sync(ctx); err != nil {
		return err
	}
	a.printState(b.State())
	cancel := b.Observe(func(st model.NavigationState) { a.printState(st) })
	defer cancel()

	a.printf("指令: back | forward | reload | state | quit\n")
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "quit", "q", "exit":
				return nil
			case "state", "s":
				a.printState(b.State())
				continue
			}
			cmd, ok := model.ParseCommand(line)
			if !ok {
				a.printf("%s\n", color.YellowString("未知指令 %q", line))
				continue
			}
			b.Dispatch(cmd)
		}
	}
}

func (a *App) printState(st model.NavigationState) {
	status := color.GreenString("完成")
	if st.IsLoading {
		status = color.YellowString("加载中")
	}
	a.printf("[%s] %s  back=%t forward=%t\n", status, st.CurrentURL, st.CanGoBack, st.CanGoForward)
}

func (a *App) withID(args []string, fn func(model.SiteID) error) error {
	id, err := a.resolveID(args)
	if err != nil {
		return err
	}
	return fn(id)
}

func (a *App) resolveID(args []string) (model.SiteID, error) {
	if len(args) != 1 {
		return model.SiteID{}, fmt.Errorf("需要一个站点 id")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return model.SiteID{}, fmt.Errorf("站点 id 非法: %w", err)
	}
	return id, nil
}

func (a *App) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}
