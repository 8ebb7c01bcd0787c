package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"opsdesk/internal/auth"
	"opsdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultAssetStatus = "Stock"

// AssetService CMDB 资产服务，写操作仅限 IT_ADMIN
type AssetService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	dispatcher EventDispatcher
}

func NewAssetService(db *gorm.DB, logger *logrus.Logger) *AssetService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AssetService{db: db, logger: logger}
}

// SetDispatcher enables ASSET_STATUS_CHANGE events. Nil disables them.
func (s *AssetService) SetDispatcher(d EventDispatcher) {
	s.dispatcher = d
}

// AssetCreateRequest 新建资产
type AssetCreateRequest struct {
	AssetTag         string     `json:"asset_tag" binding:"required"`
	Name             string     `json:"name" binding:"required"`
	Type             string     `json:"type" binding:"required"`
	Status           string     `json:"status"`
	AssignedToUserID *string    `json:"assigned_to_user_id"`
	PurchaseDate     *time.Time `json:"purchase_date"`
	WarrantyEndDate  *time.Time `json:"warranty_end_date"`
}

// AssetUpdateRequest 部分更新；nil 字段保持不变
type AssetUpdateRequest struct {
	Name             *string `json:"name"`
	Type             *string `json:"type"`
	Status           *string `json:"status"`
	AssignedToUserID *string `json:"assigned_to_user_id"`
}

// CreateAsset 新建资产
func (s *AssetService) CreateAsset(ctx context.Context, sess *auth.Session, req *AssetCreateRequest) (*models.Asset, error) {
	if err := sess.RequireRole(auth.RoleITAdmin); err != nil {
		return nil, err
	}
	if req == nil || strings.TrimSpace(req.AssetTag) == "" || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Type) == "" {
		return nil, invalid("Asset tag, name, and type are required")
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Asset{}).
		Where("company_id = ? AND asset_tag = ?", sess.TenantID, req.AssetTag).
		Count(&n).Error; err != nil {
		return nil, storeErr("check asset tag", err)
	}
	if n > 0 {
		return nil, ErrAssetTagExists
	}

	status := req.Status
	if status == "" {
		status = defaultAssetStatus
	}
	now := time.Now().UTC()
	asset := &models.Asset{
		ID:               uuid.NewString(),
		CompanyID:        sess.TenantID,
		AssetTag:         req.AssetTag,
		Name:             req.Name,
		Type:             req.Type,
		Status:           status,
		AssignedToUserID: req.AssignedToUserID,
		PurchaseDate:     req.PurchaseDate,
		WarrantyEndDate:  req.WarrantyEndDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.WithContext(ctx).Create(asset).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrAssetTagExists
		}
		return nil, storeErr("create asset", err)
	}
	return asset, nil
}

// ListAssets 列出本公司资产，可按状态过滤
func (s *AssetService) ListAssets(ctx context.Context, sess *auth.Session, status string) ([]models.Asset, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("company_id = ?", sess.TenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var assets []models.Asset
	if err := q.Order("asset_tag ASC").Find(&assets).Error; err != nil {
		return nil, storeErr("list assets", err)
	}
	return assets, nil
}

// AssignAsset 将资产分配给本公司用户，仅 IT_ADMIN；状态不随之改变
func (s *AssetService) AssignAsset(ctx context.Context, sess *auth.Session, assetID, userID string) (*models.Asset, error) {
	if err := sess.RequireRole(auth.RoleITAdmin); err != nil {
		return nil, err
	}
	asset, err := s.findAsset(ctx, sess.TenantID, assetID)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		user, err := findCompanyUser(ctx, s.db, sess.TenantID, userID)
		if err != nil {
			return nil, err
		}
		asset.AssignedToUserID = &user.ID
	} else {
		asset.AssignedToUserID = nil
	}
	asset.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(asset).Error; err != nil {
		return nil, storeErr("assign asset", err)
	}
	return asset, nil
}

// UnassignAsset 清除资产的使用人
func (s *AssetService) UnassignAsset(ctx context.Context, sess *auth.Session, assetID string) (*models.Asset, error) {
	return s.AssignAsset(ctx, sess, assetID, "")
}

func (s *AssetService) findAsset(ctx context.Context, tenantID, id string) (*models.Asset, error) {
	var asset models.Asset
	err := s.db.WithContext(ctx).Where("id = ? AND company_id = ?", id, tenantID).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, storeErr("load asset", err)
	}
	return &asset, nil
}

// UpdateAsset 更新资产。状态变化时派发 ASSET_STATUS_CHANGE，
// 但由自动化动作发起的更新不会再次派发。
func (s *AssetService) UpdateAsset(ctx context.Context, sess *auth.Session, assetID string, req *AssetUpdateRequest) (*models.Asset, error) {
	if err := sess.RequireRole(auth.RoleITAdmin); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, invalid("request required")
	}

	asset, err := s.findAsset(ctx, sess.TenantID, assetID)
	if err != nil {
		return nil, err
	}

	oldStatus := asset.Status
	if req.Name != nil {
		asset.Name = *req.Name
	}
	if req.Type != nil {
		asset.Type = *req.Type
	}
	if req.Status != nil {
		asset.Status = *req.Status
	}
	if req.AssignedToUserID != nil {
		if *req.AssignedToUserID == "" {
			asset.AssignedToUserID = nil
		} else {
			asset.AssignedToUserID = req.AssignedToUserID
		}
	}
	asset.UpdatedAt = time.Now().UTC()

	if err := s.db.WithContext(ctx).Save(asset).Error; err != nil {
		return nil, storeErr("update asset", err)
	}

	if asset.Status != oldStatus && s.dispatcher != nil && !fromAutomation(ctx) {
		payload := models.Document{
			"asset_id":   asset.ID,
			"old_status": oldStatus,
			"new_status": asset.Status,
		}
		if _, err := s.dispatcher.Execute(ctx, sess, EventAssetStatusChange, payload); err != nil {
			s.logger.WithFields(logrus.Fields{"asset_id": asset.ID, "company_id": sess.TenantID}).
				Warnf("asset status automation failed: %v", err)
		}
	}
	return asset, nil
}
