// Package repo 站点记录的增删改查
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"webclip/internal/logger"
	dbmodel "webclip/internal/storage/model"
	"webclip/pkg/model"
)

var (
	ErrNotFound    = errors.New("repo: site not found")
	ErrInvalidSite = errors.New("repo: invalid site")
	ErrDuplicateID = errors.New("repo: duplicate site id")
)

// SiteRepo 站点仓库
type SiteRepo struct {
	db  *gorm.DB
	log logger.Logger
}

// NewSiteRepo 创建站点仓库
func NewSiteRepo(db *gorm.DB, l logger.Logger) *SiteRepo {
	if l == nil {
		l = logger.NewNop()
	}
	return &SiteRepo{db: db, log: l}
}

// Validate 校验名称与地址
func Validate(s model.Site) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: 名称为空", ErrInvalidSite)
	}
	u := s.ParsedURL()
	if u == nil || u.Host == "" {
		return fmt.Errorf("%w: 地址无效 %q", ErrInvalidSite, s.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: 不支持的协议 %q", ErrInvalidSite, u.Scheme)
	}
	if s.OrientationLock != "" && !s.OrientationLock.Valid() {
		return fmt.Errorf("%w: 方向锁定取值 %q", ErrInvalidSite, s.OrientationLock)
	}
	return nil
}

// List 按位置和创建时间排序返回全部站点
func (r *SiteRepo) List(ctx context.Context) ([]model.Site, error) {
	var records []dbmodel.SiteRecord
	if err := r.db.WithContext(ctx).Order("position ASC").Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	sites := make([]model.Site, 0, len(records))
	for _, rec := range records {
		s, err := rec.ToSite()
		if err != nil {
			r.log.Warn("跳过损坏的站点记录", "id", rec.ID, "error", err)
			continue
		}
		sites = append(sites, s)
	}
	return sites, nil
}

// Get 按 ID 获取站点
func (r *SiteRepo) Get(ctx context.Context, id model.SiteID) (model.Site, error) {
	var rec dbmodel.SiteRecord
	err := r.db.WithContext(ctx).Where("id = ?", id.String()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Site{}, ErrNotFound
	}
	if err != nil {
		return model.Site{}, err
	}
	return rec.ToSite()
}

// Lookup 按 ID 查找站点，任何错误都视为不存在
func (r *SiteRepo) Lookup(ctx context.Context, id model.SiteID) (model.Site, bool) {
	s, err := r.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.Err(err, "查询站点失败", "id", id.String())
		}
		return model.Site{}, false
	}
	return s, true
}

// Add 追加站点到列表末尾
func (r *SiteRepo) Add(ctx context.Context, s model.Site) error {
	if err := Validate(s); err != nil {
		return err
	}
	if s.OrientationLock == "" {
		s.OrientationLock = model.OrientationAutomatic
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&dbmodel.SiteRecord{}).Where("id = ?", s.ID.String()).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateID, s.ID)
		}
		var maxPos sql.NullInt64
		if err := tx.Model(&dbmodel.SiteRecord{}).Select("MAX(position)").Row().Scan(&maxPos); err != nil {
			return err
		}
		rec := dbmodel.FromSite(s)
		if maxPos.Valid {
			rec.Position = int(maxPos.Int64) + 1
		}
		return tx.Create(&rec).Error
	})
}

// Update 覆盖站点的可编辑字段，ID 与位置不变；图标为空时保留原图标
func (r *SiteRepo) Update(ctx context.Context, s model.Site) error {
	if err := Validate(s); err != nil {
		return err
	}
	if s.OrientationLock == "" {
		s.OrientationLock = model.OrientationAutomatic
	}
	rec := dbmodel.FromSite(s)
	omit := []string{"id", "position", "created_at"}
	if len(s.Icon) == 0 {
		// 图标由 SetIcon 单独维护
		omit = append(omit, "icon")
	}
	res := r.db.WithContext(ctx).Model(&dbmodel.SiteRecord{}).
		Where("id = ?", rec.ID).
		Select("*").Omit(omit...).
		Updates(&rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetIcon 仅更新图标
func (r *SiteRepo) SetIcon(ctx context.Context, id model.SiteID, icon []byte) error {
	res := r.db.WithContext(ctx).Model(&dbmodel.SiteRecord{}).
		Where("id = ?", id.String()).
		Update("icon", icon)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove 删除站点
func (r *SiteRepo) Remove(ctx context.Context, id model.SiteID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&dbmodel.SiteRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Move 将站点移动到 index 位置（越界时夹到两端），其余站点顺序不变
func (r *SiteRepo) Move(ctx context.Context, id model.SiteID, index int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&dbmodel.SiteRecord{}).Order("position ASC").Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
			return err
		}
		from := -1
		for i, v := range ids {
			if v == id.String() {
				from = i
				break
			}
		}
		if from < 0 {
			return ErrNotFound
		}
		if index < 0 {
			index = 0
		}
		if index > len(ids)-1 {
			index = len(ids) - 1
		}
		moved := ids[from]
		ids = append(ids[:from], ids[from+1:]...)
		ids = append(ids[:index], append([]string{moved}, ids[index:]...)...)

		for pos, v := range ids {
			if err := tx.Model(&dbmodel.SiteRecord{}).Where("id = ?", v).Update("position", pos).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
