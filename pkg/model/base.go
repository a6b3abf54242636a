package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel 基础模型，替代 gorm.Model，使用 UUID 作为主键
// DeletedAt 即软删除时间戳，gorm 默认查询会自动过滤已删除记录
type BaseModel struct {
	ID        string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deletedAt,omitempty"`
}

// BeforeCreate 钩子：生成 UUID
func (b *BaseModel) BeforeCreate(tx *gorm.DB) (err error) {
	b.EnsureID()
	return
}

// EnsureID 在 ID 为空时生成 UUID，非 gorm 存储同样需要
func (b *BaseModel) EnsureID() {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
}

// IsDeleted 是否已软删除
func (b *BaseModel) IsDeleted() bool {
	return b.DeletedAt.Valid
}
