package repo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"webclip/pkg/model"
)

// ErrInvalidDocument 导入内容不是 JSON 数组
var ErrInvalidDocument = errors.New("repo: document is not a json array")

// ImportJSON 导入旧版站点列表(JSON 数组)。已存在的 ID 覆盖更新，无效条目跳过。
// 返回成功导入的条数。
func (r *SiteRepo) ImportJSON(ctx context.Context, data []byte) (int, error) {
	if !gjson.ValidBytes(data) {
		return 0, ErrInvalidDocument
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return 0, ErrInvalidDocument
	}

	imported := 0
	var firstErr error
	root.ForEach(func(key, item gjson.Result) bool {
		s, ok := decodeLegacy(item)
		if !ok {
			r.log.Warn("跳过无效的导入条目", "index", key.Int())
			return true
		}
		if err := Validate(s); err != nil {
			r.log.Warn("跳过无效的导入条目", "index", key.Int(), "error", err)
			return true
		}

		var err error
		if _, exists := r.Lookup(ctx, s.ID); exists {
			err = r.Update(ctx, s)
		} else {
			err = r.Add(ctx, s)
		}
		if err != nil {
			firstErr = fmt.Errorf("导入站点 %s: %w", s.ID, err)
			return false
		}
		imported++
		return true
	})
	if firstErr != nil {
		return imported, firstErr
	}
	r.log.Info("导入站点完成", "count", imported)
	return imported, nil
}

func decodeLegacy(item gjson.Result) (model.Site, bool) {
	if !item.IsObject() {
		return model.Site{}, false
	}
	s := model.NewSite(item.Get("name").String(), item.Get("urlString").String())
	if raw := item.Get("id"); raw.Exists() {
		id, err := uuid.Parse(raw.String())
		if err != nil {
			return model.Site{}, false
		}
		s.ID = id
	}
	if v := item.Get("orientationLock"); v.Exists() {
		s.OrientationLock = model.OrientationLock(v.String())
		if !s.OrientationLock.Valid() {
			s.OrientationLock = model.OrientationAutomatic
		}
	}
	boolField(item, "enableJavaScript", &s.EnableJavaScript)
	boolField(item, "enableStikJIT", &s.EnableToolScheme)
	boolField(item, "allowInlineMedia", &s.AllowInlineMedia)
	boolField(item, "enableFullScreen", &s.EnableFullScreen)
	if v := item.Get("userAgent"); v.Exists() {
		s.UserAgent = v.String()
	}
	if v := item.Get("iconColorHex"); v.Exists() && v.String() != "" {
		s.IconColorHex = v.String()
	}
	if v := item.Get("iconData"); v.Exists() {
		if icon, err := base64.StdEncoding.DecodeString(v.String()); err == nil {
			s.Icon = icon
		}
	}
	return s, true
}

func boolField(item gjson.Result, path string, dst *bool) {
	if v := item.Get(path); v.Exists() {
		*dst = v.Bool()
	}
}

// ExportJSON 按列表顺序导出为旧版 JSON 数组
func (r *SiteRepo) ExportJSON(ctx context.Context) ([]byte, error) {
	sites, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []byte("[]")
	for i, s := range sites {
		obj, err := encodeLegacy(s)
		if err != nil {
			return nil, fmt.Errorf("导出站点 %s: %w", s.ID, err)
		}
		if out, err = sjson.SetRawBytes(out, strconv.Itoa(i), obj); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeLegacy(s model.Site) ([]byte, error) {
	fields := []struct {
		path  string
		value any
	}{
		{"id", s.ID.String()},
		{"name", s.Name},
		{"urlString", s.URL},
		{"orientationLock", string(s.OrientationLock)},
		{"enableJavaScript", s.EnableJavaScript},
		{"enableStikJIT", s.EnableToolScheme},
		{"allowInlineMedia", s.AllowInlineMedia},
		{"enableFullScreen", s.EnableFullScreen},
		{"userAgent", s.UserAgent},
		{"iconColorHex", s.IconColorHex},
	}
	obj := []byte("{}")
	var err error
	for _, f := range fields {
		if obj, err = sjson.SetBytes(obj, f.path, f.value); err != nil {
			return nil, err
		}
	}
	if len(s.Icon) > 0 {
		if obj, err = sjson.SetBytes(obj, "iconData", base64.StdEncoding.EncodeToString(s.Icon)); err != nil {
			return nil, err
		}
	}
	return obj, nil
}
