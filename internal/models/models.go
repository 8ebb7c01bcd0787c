package models

import (
	"time"
)

// Document is an open key-value JSON document (event payloads, action
// configuration, condition sets, execution results).
type Document map[string]interface{}

// User 租户内的账号；密码哈希交由外部身份服务，不在此处保存
type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CompanyID string    `gorm:"index;size:36;not null" json:"company_id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	Role      string    `gorm:"index;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All returns every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Ticket{},
		&SLAMetric{},
		&Asset{},
		&AutomationRule{},
		&AutomationLog{},
	}
}
