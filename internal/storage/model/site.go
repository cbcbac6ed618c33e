package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/schema"

	pkgmodel "webclip/pkg/model"
)

// SiteRecord 站点持久化记录
type SiteRecord struct {
	ID               string `gorm:"primaryKey;size:36"`
	Name             string `gorm:"size:200;not null"`
	URL              string `gorm:"size:2048;not null"`
	OrientationLock  string `gorm:"size:16"`
	EnableJavaScript bool
	EnableToolScheme bool
	AllowInlineMedia bool
	EnableFullScreen bool
	UserAgent        string `gorm:"size:512"`
	IconColorHex     string `gorm:"size:8"`
	Icon             []byte
	Position         int `gorm:"index;not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName 表名为 <prefix>sites
func (SiteRecord) TableName(namer schema.Namer) string {
	return namer.TableName("Site")
}

// FromSite 由领域对象生成记录，不含排序位置
func FromSite(s pkgmodel.Site) SiteRecord {
	return SiteRecord{
		ID:               s.ID.String(),
		Name:             s.Name,
		URL:              s.URL,
		OrientationLock:  string(s.OrientationLock),
		EnableJavaScript: s.EnableJavaScript,
		EnableToolScheme: s.EnableToolScheme,
		AllowInlineMedia: s.AllowInlineMedia,
		EnableFullScreen: s.EnableFullScreen,
		UserAgent:        s.UserAgent,
		IconColorHex:     s.IconColorHex,
		Icon:             s.Icon,
	}
}

// ToSite 还原为领域对象
func (r SiteRecord) ToSite() (pkgmodel.Site, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return pkgmodel.Site{}, err
	}
	orientation := pkgmodel.OrientationLock(r.OrientationLock)
	if !orientation.Valid() {
		orientation = pkgmodel.OrientationAutomatic
	}
	return pkgmodel.Site{
		ID:               id,
		Name:             r.Name,
		URL:              r.URL,
		OrientationLock:  orientation,
		EnableJavaScript: r.EnableJavaScript,
		EnableToolScheme: r.EnableToolScheme,
		AllowInlineMedia: r.AllowInlineMedia,
		EnableFullScreen: r.EnableFullScreen,
		UserAgent:        r.UserAgent,
		IconColorHex:     r.IconColorHex,
		Icon:             r.Icon,
	}, nil
}
