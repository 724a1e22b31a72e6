// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 用户角色。
const (
	UserRoleUser  = "USER"
	UserRoleAdmin = "ADMIN"
)

// User 对应于数据库中的 'users' 表，即本地缓存的用户档案。
type User struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	// Email 是登录名，唯一。
	Email string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	// Password 存储 bcrypt 哈希，不会序列化到响应中。
	Password string `gorm:"type:varchar(255);not null" json:"-"`
	// AccessKey 记录注册时消费的访问令牌。
	AccessKey string    `gorm:"type:varchar(64);not null" json:"-"`
	Role      string    `gorm:"type:varchar(20);not null;default:'USER'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// AccessKey 对应于 'keys' 表：一次性注册令牌登记簿。
type AccessKey struct {
	KeyCode   string     `gorm:"type:varchar(64);primaryKey;column:key_code" json:"keyCode"`
	IsUsed    bool       `gorm:"not null;default:false;column:is_used" json:"isUsed"`
	CreatedBy uint       `gorm:"column:created_by" json:"createdBy"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UsedAt    *time.Time `gorm:"default:null" json:"usedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (AccessKey) TableName() string {
	return "keys"
}
