package responses

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

type envelope struct {
	Data     map[string]any `json:"data"`
	Warnings []struct {
		Code string `json:"code"`
		Step string `json:"step"`
	} `json:"warnings"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestWriteSuccessWithWarnings(t *testing.T) {
	var warnings pkgerrors.Warnings
	warnings.Add(pkgerrors.CodeShipmentProviderError, "courier_cancel_shipment", errors.New("timeout"))

	w := httptest.NewRecorder()
	WriteSuccessWithWarnings(w, http.StatusOK, map[string]string{"status": "cancelled"}, warnings)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "cancelled", body.Data["status"])
	require.Len(t, body.Warnings, 1)
	assert.Equal(t, "courier_cancel_shipment", body.Warnings[0].Step)

	w = httptest.NewRecorder()
	WriteSuccessWithWarnings(w, http.StatusCreated, map[string]string{}, nil)
	assert.NotContains(t, w.Body.String(), "warnings")
}

func TestWriteErrorMapsDomainCodes(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{pkgerrors.New(pkgerrors.CodeProviderMismatch, "locker-to-locker shipments must use a single provider"), http.StatusUnprocessableEntity, "locker-to-locker shipments must use a single provider"},
		{pkgerrors.New(pkgerrors.CodeItemUnavailable, "book is no longer available"), http.StatusConflict, "book is no longer available"},
		{pkgerrors.Wrap(pkgerrors.CodeRefundFailed, errors.New("square 500"), "refund payment"), http.StatusBadGateway, "refund could not be processed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		WriteError(context.Background(), logg, w, tc.err)
		assert.Equal(t, tc.status, w.Code)
		assert.Equal(t, tc.message, decode(t, w).Error.Message)
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeInternal, "db password wrong").WithDetails(map[string]any{"dsn": "secret"}))
	body := decode(t, w)
	assert.Equal(t, string(pkgerrors.CodeInternal), body.Error.Code)
	assert.Nil(t, body.Error.Details)

	w = httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeValidation, "bad input").WithDetails(map[string]string{"field": "isbn"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotNil(t, decode(t, w).Error.Details)
}
