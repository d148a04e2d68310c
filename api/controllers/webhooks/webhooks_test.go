package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	courierwebhook "github.com/angelmondragon/bookswap-backend/internal/webhooks/courier"
	squarewebhook "github.com/angelmondragon/bookswap-backend/internal/webhooks/square"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{seen: map[string]bool{}}
}

func (g *memoryGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[eventID] {
		return false, nil
	}
	g.seen[eventID] = true
	return true, nil
}

func (g *memoryGuard) Release(ctx context.Context, eventID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, eventID)
	return nil
}

type fakeSquareService struct {
	calls int
	err   error
}

func (f *fakeSquareService) HandleEvent(ctx context.Context, event *squarewebhook.SquareWebhookEvent) error {
	f.calls++
	return f.err
}

type fakeCourierService struct {
	events []*courierwebhook.TrackingEvent
	err    error
}

func (f *fakeCourierService) HandleEvent(ctx context.Context, event *courierwebhook.TrackingEvent) error {
	f.events = append(f.events, event)
	return f.err
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
}

func signSquare(t *testing.T, signing SquareSigning, payload []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(signing.SignatureKey))
	mac.Write([]byte(signing.NotificationURL))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func squarePayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"event_id": "evt-123",
		"type":     "payment.updated",
		"data": map[string]any{
			"type": "payment",
			"id":   "pay-1",
			"object": map[string]any{
				"payment": map[string]any{"id": "pay-1", "status": "COMPLETED", "reference_id": "x"},
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func TestSquareWebhookSuccessAndIdempotent(t *testing.T) {
	signing := SquareSigning{SignatureKey: "key", NotificationURL: "https://api.bookswap.test/api/v1/webhooks/square"}
	payload := squarePayload(t)
	svc := &fakeSquareService{}
	handler := SquareWebhook(svc, signing, newMemoryGuard(), quietLogger())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
		req.Header.Set(squareSignatureHeader, signSquare(t, signing, payload))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	assert.Equal(t, 1, svc.calls)
}

func TestSquareWebhookRejectsBadSignature(t *testing.T) {
	signing := SquareSigning{SignatureKey: "key", NotificationURL: "https://api.bookswap.test/hook"}
	payload := squarePayload(t)
	svc := &fakeSquareService{}
	handler := SquareWebhook(svc, signing, newMemoryGuard(), quietLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	req.Header.Set(squareSignatureHeader, signSquare(t, SquareSigning{SignatureKey: "other"}, payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestSquareWebhookFailureAllowsRetry(t *testing.T) {
	signing := SquareSigning{SignatureKey: "key"}
	payload := squarePayload(t)
	svc := &fakeSquareService{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	guard := newMemoryGuard()
	handler := SquareWebhook(svc, signing, guard, quietLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	req.Header.Set(squareSignatureHeader, signSquare(t, signing, payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, guard.seen["evt-123"])
}

func courierRequest(t *testing.T, secret string, body map[string]any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/courier", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(courierSecretHeader, secret)
	}
	return req
}

func TestCourierWebhookForwardsTrackingUpdate(t *testing.T) {
	svc := &fakeCourierService{}
	handler := CourierWebhook(svc, "s3cret", newMemoryGuard(), quietLogger())
	body := map[string]any{"tracking_reference": "TCG-1", "status": "delivered"}

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, courierRequest(t, "s3cret", body))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	require.Len(t, svc.events, 1)
	assert.Equal(t, "TCG-1", svc.events[0].TrackingReference)
	assert.Equal(t, "delivered", svc.events[0].Status)
}

func TestCourierWebhookRejectsWrongSecret(t *testing.T) {
	svc := &fakeCourierService{}
	body := map[string]any{"tracking_reference": "TCG-1", "status": "delivered"}

	rec := httptest.NewRecorder()
	CourierWebhook(svc, "s3cret", newMemoryGuard(), quietLogger()).ServeHTTP(rec, courierRequest(t, "nope", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	CourierWebhook(svc, "", newMemoryGuard(), quietLogger()).ServeHTTP(rec, courierRequest(t, "", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, svc.events)
}

func TestCourierWebhookValidatesBody(t *testing.T) {
	svc := &fakeCourierService{}
	rec := httptest.NewRecorder()
	CourierWebhook(svc, "s3cret", newMemoryGuard(), quietLogger()).
		ServeHTTP(rec, courierRequest(t, "s3cret", map[string]any{"status": "delivered"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.events)
}
