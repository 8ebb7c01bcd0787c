package models

import "time"

// Execution statuses recorded in automation_logs.
const (
	ExecutionSuccess = "SUCCESS"
	ExecutionFailed  = "FAILED"
	ExecutionSkipped = "SKIPPED"
)

// AutomationRule 自动化规则；严格属于一个公司（租户）
type AutomationRule struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	CompanyID       string    `gorm:"index:idx_automation_rules_lookup,priority:1;size:36;not null" json:"company_id"`
	Name            string    `gorm:"not null" json:"name"`
	Description     *string   `gorm:"type:text" json:"description"`
	TriggerEvent    string    `gorm:"index:idx_automation_rules_lookup,priority:2;not null" json:"trigger_event"` // USER_CREATED, ASSET_STATUS_CHANGE ...
	Action          string    `gorm:"not null" json:"action"`                                                     // CREATE_TICKET, UPDATE_ASSET ...
	ActionConfig    Document  `gorm:"serializer:json;type:text" json:"action_config"`
	Conditions      Document  `gorm:"serializer:json;type:text" json:"conditions"` // nil: always matches
	IsActive        bool      `gorm:"index:idx_automation_rules_lookup,priority:3;not null" json:"is_active"`
	CreatedByUserID string    `gorm:"size:36" json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AutomationLog 执行审计记录，只追加不修改
type AutomationLog struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	CompanyID       string    `gorm:"index;size:36;not null" json:"company_id"`
	RuleID          *string   `gorm:"index;size:36" json:"rule_id"` // the rule may be deleted later
	TriggerEvent    string    `gorm:"index;not null" json:"trigger_event"`
	Action          string    `json:"action"`
	ExecutionStatus string    `gorm:"index;not null" json:"execution_status"`
	ExecutionResult Document  `gorm:"serializer:json;type:text" json:"execution_result,omitempty"`
	ErrorMessage    *string   `gorm:"type:text" json:"error_message,omitempty"`
	TriggeredByData Document  `gorm:"serializer:json;type:text" json:"triggered_by_data"`
	ExecutedAt      time.Time `gorm:"index" json:"executed_at"`
}
