package repo

import (
	"context"
	"errors"
	"time"

	"tabkeeper/internal/storage/model"

	"gorm.io/gorm"
)

// SettingsRepo 键值设置仓库，充当协调器的持久化存储
type SettingsRepo struct {
	BaseRepository[model.Setting]
}

// NewSettingsRepo 创建设置仓库实例
func NewSettingsRepo(db *gorm.DB) *SettingsRepo {
	return &SettingsRepo{
		BaseRepository: *NewBaseRepository[model.Setting](db),
	}
}

// Get 获取设置值，不存在时返回 gorm.ErrRecordNotFound
func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var setting model.Setting
	result := r.Db.WithContext(ctx).Where("key = ?", key).First(&setting)
	if result.Error != nil {
		return "", result.Error
	}
	return setting.Value, nil
}

// Lookup 获取设置值，并区分“不存在”与读取失败
func (r *SettingsRepo) Lookup(ctx context.Context, key string) (string, bool, error) {
	val, err := r.Get(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// GetWithDefault 获取设置值，不存在时返回默认值
func (r *SettingsRepo) GetWithDefault(ctx context.Context, key, defaultValue string) string {
	val, err := r.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	return val
}

// Set 设置值（存在则更新，不存在则创建）
func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	setting := model.Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return r.Db.WithContext(ctx).Save(&setting).Error
}

// SetMultiple 在一个事务内批量设置
func (r *SettingsRepo) SetMultiple(ctx context.Context, kvs map[string]string) error {
	return r.Db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for key, value := range kvs {
			setting := model.Setting{
				Key:       key,
				Value:     value,
				UpdatedAt: now,
			}
			if err := tx.Save(&setting).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteByKey 根据 key 删除设置
func (r *SettingsRepo) DeleteByKey(ctx context.Context, key string) error {
	return r.Db.WithContext(ctx).Delete(&model.Setting{}, "key = ?", key).Error
}

// GetAll 获取所有设置
func (r *SettingsRepo) GetAll(ctx context.Context) (map[string]string, error) {
	var settings []model.Setting
	if err := r.Db.WithContext(ctx).Find(&settings).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string, len(settings))
	for _, s := range settings {
		result[s.Key] = s.Value
	}
	return result, nil
}
