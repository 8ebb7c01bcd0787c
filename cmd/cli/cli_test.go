package cli

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"opsdesk/internal/auth"
	"opsdesk/internal/config"
	"opsdesk/internal/handlers"
	"opsdesk/internal/models"
	"opsdesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newCLITestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func quietLog() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "opsdesk"})
	assert.Equal(t, "host=db user=u password=p dbname=opsdesk port=5432 sslmode=disable TimeZone=UTC", dsn)

	dsn = postgresDSN(config.DatabaseConfig{Host: "db", Port: 5432, SSLMode: "require"})
	assert.Contains(t, dsn, "sslmode=require")
}

func TestParsePayload(t *testing.T) {
	doc, err := parsePayload(`{"asset_id":"a1","n":2}`)
	require.NoError(t, err)
	assert.Equal(t, "a1", doc["asset_id"])

	doc, err = parsePayload("null")
	require.NoError(t, err)
	assert.NotNil(t, doc)

	_, err = parsePayload("[1,2]")
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
}

func TestSeedRulesAndDispatch(t *testing.T) {
	db := newCLITestDB(t)
	cfg := config.GetDefaultConfig()
	svc := buildServices(db, cfg, quietLog())

	n, err := seedRules(context.Background(), svc.Automation, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	admin := &auth.Session{UserID: "admin", TenantID: "c1", Role: auth.RoleITAdmin}
	_, err = svc.Users.CreateUser(context.Background(), admin, &services.UserCreateRequest{Email: "new@corp.io", Role: auth.RoleEmployee})
	require.NoError(t, err)

	var tickets int64
	require.NoError(t, db.Model(&models.Ticket{}).Count(&tickets).Error)
	assert.Equal(t, int64(2), tickets)
}

func TestBuildServices_TriggersCanBeDisabled(t *testing.T) {
	db := newCLITestDB(t)
	cfg := config.GetDefaultConfig()
	cfg.Automation.TriggerOnUserCreated = false
	svc := buildServices(db, cfg, quietLog())
	_, err := seedRules(context.Background(), svc.Automation, "c1")
	require.NoError(t, err)

	admin := &auth.Session{UserID: "admin", TenantID: "c1", Role: auth.RoleITAdmin}
	_, err = svc.Users.CreateUser(context.Background(), admin, &services.UserCreateRequest{Email: "quiet@corp.io", Role: auth.RoleEmployee})
	require.NoError(t, err)

	var logs int64
	require.NoError(t, db.Model(&models.AutomationLog{}).Count(&logs).Error)
	assert.Zero(t, logs)
}

func TestSetupRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newCLITestDB(t)
	cfg := config.GetDefaultConfig()
	tokens, err := auth.NewManager(cfg.JWT)
	require.NoError(t, err)
	r := setupRouter(cfg, tokens, buildServices(db, cfg, quietLog()), handlers.NewHealthHandler(db, "test"), quietLog())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/tickets", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/automations/rules", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, err := tokens.Issue(time.Now(), auth.Session{UserID: "admin", TenantID: "c1", Role: auth.RoleITAdmin})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/automations/rules", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRouter_LimitsUnauthenticatedClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newCLITestDB(t)
	cfg := config.GetDefaultConfig()
	tokens, err := auth.NewManager(cfg.JWT)
	require.NoError(t, err)
	r := setupRouter(cfg, tokens, buildServices(db, cfg, quietLog()), handlers.NewHealthHandler(db, "test"), quietLog())

	codes := map[int]int{}
	for i := 0; i < cfg.Security.RateLimiting.Burst+10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/automations/rules", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		req.Header.Set("Authorization", "Bearer garbage")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes[w.Code]++
	}
	assert.GreaterOrEqual(t, codes[http.StatusUnauthorized], cfg.Security.RateLimiting.Burst)
	assert.Positive(t, codes[http.StatusTooManyRequests])
	assert.Equal(t, cfg.Security.RateLimiting.Burst+10, codes[http.StatusUnauthorized]+codes[http.StatusTooManyRequests])

	// 其他来源不受影响
	req := httptest.NewRequest(http.MethodGet, "/api/v1/automations/rules", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORSMiddleware_EchoesAllowedOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(corsMiddleware(config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://a.example", "https://b.example"},
		AllowedMethods: []string{"GET"},
	}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://b.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://b.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://a.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://a.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}
