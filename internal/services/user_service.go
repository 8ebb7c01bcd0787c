package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"opsdesk/internal/auth"
	"opsdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// UserService 用户管理；创建后派发 USER_CREATED
type UserService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	dispatcher EventDispatcher
}

func NewUserService(db *gorm.DB, logger *logrus.Logger) *UserService {
	if logger == nil {
		logger = logrus.New()
	}
	return &UserService{db: db, logger: logger}
}

// SetDispatcher enables USER_CREATED events. Nil disables them.
func (s *UserService) SetDispatcher(d EventDispatcher) {
	s.dispatcher = d
}

// UserCreateRequest 创建用户请求
type UserCreateRequest struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

// CreateUser 在当前公司下创建用户。自动化失败只记日志，不影响创建结果。
func (s *UserService) CreateUser(ctx context.Context, sess *auth.Session, req *UserCreateRequest) (*models.User, error) {
	if err := sess.RequireRole(auth.RoleITAdmin); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, invalid("Email and role are required")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Role == "" {
		return nil, invalid("Email and role are required")
	}
	if !emailPattern.MatchString(email) {
		return nil, invalid("Invalid email format")
	}
	if !auth.IsKnownRole(req.Role) {
		return nil, invalid("Invalid role: %s", req.Role)
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return nil, storeErr("check email", err)
	}
	if n > 0 {
		return nil, ErrEmailExists
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.NewString(),
		CompanyID: sess.TenantID,
		Email:     email,
		Role:      req.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		// 并发注册时由唯一索引兜底
		if isDuplicateKey(err) {
			return nil, ErrEmailExists
		}
		return nil, storeErr("create user", err)
	}

	if s.dispatcher != nil {
		payload := models.Document{
			"user_id":    user.ID,
			"email":      user.Email,
			"role":       user.Role,
			"company_id": user.CompanyID,
		}
		if _, err := s.dispatcher.Execute(ctx, sess, EventUserCreated, payload); err != nil {
			s.logger.WithFields(logrus.Fields{"user_id": user.ID, "company_id": user.CompanyID}).
				Warnf("user created automation failed: %v", err)
		}
	}
	return user, nil
}

// findCompanyUser loads a user of the given company.
func findCompanyUser(ctx context.Context, db *gorm.DB, tenantID, userID string) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).Where("id = ? AND company_id = ?", userID, tenantID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, storeErr("load user", err)
	}
	return &user, nil
}
