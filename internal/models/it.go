package models

import "time"

// Ticket IT 服务台工单
type Ticket struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	CompanyID       string     `gorm:"index;size:36;not null" json:"company_id"`
	TicketNumber    string     `gorm:"uniqueIndex;not null" json:"ticket_number"`
	Title           string     `gorm:"not null" json:"title"`
	Description     string     `gorm:"type:text" json:"description"`
	Priority        string     `json:"priority"` // Low, Medium, High, Critical
	Status          string     `gorm:"index" json:"status"`
	RequesterUserID string     `gorm:"size:36" json:"requester_user_id"`
	AssignedUserID  *string    `gorm:"size:36" json:"assigned_user_id"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	ClosedAt        *time.Time `json:"closed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SLAMetric 工单 SLA 目标，随工单创建
type SLAMetric struct {
	ID                      uint      `gorm:"primaryKey" json:"id"`
	TicketID                string    `gorm:"uniqueIndex;size:36" json:"ticket_id"`
	CompanyID               string    `gorm:"index;size:36" json:"company_id"`
	TargetResolutionMinutes int       `json:"target_resolution_minutes"`
	TimeToResolveMinutes    *int      `json:"time_to_resolve_minutes"`
	SLAMet                  *bool     `json:"sla_met"`
	CreatedAt               time.Time `json:"created_at"`
}

// Asset CMDB 资产
type Asset struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	CompanyID        string     `gorm:"uniqueIndex:idx_assets_company_tag,priority:1;size:36;not null" json:"company_id"`
	AssetTag         string     `gorm:"uniqueIndex:idx_assets_company_tag,priority:2;not null" json:"asset_tag"`
	Name             string     `gorm:"not null" json:"name"`
	Type             string     `gorm:"not null" json:"type"`
	Status           string     `gorm:"index" json:"status"` // Stock, Assigned, Repair, Retired
	AssignedToUserID *string    `gorm:"size:36" json:"assigned_to_user_id"`
	PurchaseDate     *time.Time `json:"purchase_date"`
	WarrantyEndDate  *time.Time `json:"warranty_end_date"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
