package repository

import (
	"errors"
	"time"

	"syntax-ai-go/internal/model"

	"gorm.io/gorm"
)

var (
	// ErrAccessKeyNotFound 表示登记簿中不存在该访问令牌。
	ErrAccessKeyNotFound = errors.New("access key not found")
	// ErrAccessKeyConsumed 表示访问令牌已被使用过。
	ErrAccessKeyConsumed = errors.New("access key already consumed")
)

// AccessKeyRepository 定义了一次性注册令牌的持久化操作。
type AccessKeyRepository interface {
	Create(key *model.AccessKey) error
	FindByCode(code string) (*model.AccessKey, error)
	FindAll() ([]model.AccessKey, error)
	// ConsumeAndCreateUser 在同一事务中标记令牌已使用并创建用户档案。
	ConsumeAndCreateUser(code string, user *model.User) error
}

type accessKeyRepository struct {
	db *gorm.DB
}

// NewAccessKeyRepository 创建一个新的 AccessKeyRepository 实例。
func NewAccessKeyRepository(db *gorm.DB) AccessKeyRepository {
	return &accessKeyRepository{db: db}
}

func (r *accessKeyRepository) Create(key *model.AccessKey) error {
	return r.db.Create(key).Error
}

// FindByCode 查找令牌，不存在时返回 ErrAccessKeyNotFound。
func (r *accessKeyRepository) FindByCode(code string) (*model.AccessKey, error) {
	var key model.AccessKey
	err := r.db.Where("key_code = ?", code).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccessKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *accessKeyRepository) FindAll() ([]model.AccessKey, error) {
	var keys []model.AccessKey
	err := r.db.Order("created_at DESC").Find(&keys).Error
	return keys, err
}

func (r *accessKeyRepository) ConsumeAndCreateUser(code string, user *model.User) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// 条件更新保证同一令牌只能被消费一次
		res := tx.Model(&model.AccessKey{}).
			Where("key_code = ? AND is_used = ?", code, false).
			Updates(map[string]interface{}{"is_used": true, "used_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.AccessKey{}).Where("key_code = ?", code).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrAccessKeyNotFound
			}
			return ErrAccessKeyConsumed
		}
		user.AccessKey = code
		return tx.Create(user).Error
	})
}
