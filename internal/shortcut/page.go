// Package shortcut 生成"添加到主屏幕"使用的快捷方式页面
package shortcut

import (
	"bytes"
	"encoding/base64"
	"html/template"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"webclip/pkg/model"
)

const pageTemplate = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="apple-mobile-web-app-capable" content="yes">
<meta name="apple-mobile-web-app-status-bar-style" content="black-translucent">
<meta name="apple-mobile-web-app-title" content="{{.Name}}">
<meta name="theme-color" content="#{{.Color}}">
<title>{{.Name}}</title>
{{- if .Icon}}
<link rel="apple-touch-icon" href="{{.Icon}}">
<link rel="icon" href="{{.Icon}}">
{{- end}}
<style>
body {
    font-family: -apple-system, sans-serif;
    display: flex;
    align-items: center;
    justify-content: center;
    height: 100vh;
    margin: 0;
    background: #000;
    color: #fff;
}
a { color: #{{.Color}}; }
</style>
<script>
window.location.href = {{.Link}};
</script>
</head>
<body>
<p>正在打开 {{.Name}} … <a id="open" href="{{.Href}}">手动打开</a></p>
</body>
</html>
`

var page = template.Must(template.New("shortcut").Parse(pageTemplate))

type pageData struct {
	Name  string
	Color string
	Icon  template.URL
	Link  string
	Href  template.URL
}

// Render 生成自包含的 HTML 页面，加载后立即跳转到深链
func Render(site model.Site, deepLink string) ([]byte, error) {
	data := pageData{
		Name:  strings.TrimSpace(site.Name),
		Color: colorHex(site.IconColorHex),
		Link:  deepLink,
		// 深链为自定义 scheme，需要显式标记为可信 URL
		Href: template.URL(deepLink),
	}
	if len(site.Icon) > 0 {
		data.Icon = template.URL(DataURI(site.Icon))
	}
	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DataURI 将图标编码为 data URI，MIME 由内容嗅探
func DataURI(icon []byte) string {
	mime := mimetype.Detect(icon).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(icon)
}

// ShortcutsAppURL 生成快捷指令 app 的"新建快捷指令"链接
func ShortcutsAppURL(site model.Site, deepLink string) string {
	q := url.Values{}
	q.Set("name", site.Name)
	q.Set("url", deepLink)
	return "shortcuts://create-shortcut?" + q.Encode()
}

// FileName 快捷方式页面的文件名
func FileName(site model.Site) string {
	slug := strings.Join(strings.Fields(strings.ToLower(site.Name)), "-")
	slug = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '-'
		}
		return r
	}, slug)
	if slug == "" {
		slug = site.ID.String()
	}
	return slug + "-shortcut.html"
}

func colorHex(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "#")
	if len(v) != 6 {
		return "007AFF"
	}
	for _, c := range v {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return "007AFF"
		}
	}
	return strings.ToUpper(v)
}
