package routes

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bookswap-backend/internal/orders"
	"github.com/angelmondragon/bookswap-backend/pkg/auth"
	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/pagination"
)

type fakeOrders struct {
	orders.Service
	listed int
}

func (f *fakeOrders) ListOrders(ctx context.Context, actor orders.Actor, params pagination.Params, filters orders.ListFilters) (*orders.OrderList, error) {
	f.listed++
	return &orders.OrderList{Items: []orders.OrderSummary{}}, nil
}

func (f *fakeOrders) MarkPaid(ctx context.Context, orderID uuid.UUID, ref string) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: enums.OrderStatusPaid}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev", CORSOrigins: []string{"*"}, RateLimitPerMinute: 100},
		JWT: config.JWTConfig{Secret: "test-secret", Issuer: "bookswap-test"},
	}
}

func bearer(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), time.Hour, auth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	require.NoError(t, err)
	return "Bearer " + token
}

func newTestRouter(cfg *config.Config, svc orders.Service) http.Handler {
	return NewRouter(Deps{
		Config:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}),
		Gatherer: prometheus.NewRegistry(),
		Orders:   svc,
	})
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter(testConfig(), &fakeOrders{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev", rec.Header().Get("X-Bookswap-Env"))
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(testConfig(), &fakeOrders{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrdersRequireAuth(t *testing.T) {
	cfg := testConfig()
	svc := &fakeOrders{}
	router := newTestRouter(cfg, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleUser))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, svc.listed)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, &fakeOrders{})
	path := "/api/admin/v1/orders/" + uuid.NewString() + "/mark-paid"

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"payment_reference":"sq-1"}`))
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"payment_reference":"sq-1"}`))
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestWebhooksUnmountedWithoutServices(t *testing.T) {
	router := newTestRouter(testConfig(), &fakeOrders{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/courier", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
