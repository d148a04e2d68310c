package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
)

type sampleBody struct {
	BookID string `json:"book_id" validate:"required,uuid"`
	Reason string `json:"reason" validate:"max=10"`
}

func TestDecodeJSONBody(t *testing.T) {
	valid := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"book_id":"`+uuid.NewString()+`"}`))
	var body sampleBody
	require.NoError(t, DecodeJSONBody(valid, &body))

	unknown := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"book_id":"x","extra":1}`))
	err := DecodeJSONBody(unknown, &sampleBody{})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	invalid := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"book_id":"nope","reason":"far too long a reason"}`))
	err = DecodeJSONBody(invalid, &sampleBody{})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details := typed.Details().(map[string]string)
	assert.Equal(t, "must be a valid UUID", details["book_id"])
	assert.Equal(t, "must be at most 10", details["reason"])
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rc := chi.NewRouteContext()
	rc.URLParams.Add("orderId", id.String())
	rc.URLParams.Add("bad", "123")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := ParseUUIDParam(req, "orderId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUIDParam(req, "bad")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	_, err = ParseUUIDParam(req, "missing")
	assert.Error(t, err)
}

func TestSanitizeStringIsRuneSafe(t *testing.T) {
	assert.Equal(t, "Ünïv", SanitizeString("  Ünïversity  ", 4))
	assert.Equal(t, "abc", SanitizeString(" abc ", 0))
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&unread=true&flag=maybe", nil)
	_, err := ParseQueryInt(req, "limit", 20, 1, 100)
	assert.Error(t, err)
	v, err := ParseQueryInt(req, "missing", 20, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	unread, err := ParseQueryBool(req, "unread")
	require.NoError(t, err)
	assert.True(t, unread)
	_, err = ParseQueryBool(req, "flag")
	assert.Error(t, err)
}

func TestSanitizeStringDropsControlCharacters(t *testing.T) {
	assert.Equal(t, "late\ndelivery", SanitizeString("\tlate\r\n\x00delivery ", 0))
}

func TestDecodeJSONBodyRejectsTrailingAndEmpty(t *testing.T) {
	id := uuid.NewString()
	trailing := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"book_id":"`+id+`"}{"book_id":"`+id+`"}`))
	err := DecodeJSONBody(trailing, &sampleBody{})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	empty := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	err = DecodeJSONBody(empty, &sampleBody{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	huge := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"`+strings.Repeat("a", MaxBodyBytes)+`"}`))
	err = DecodeJSONBody(huge, &sampleBody{})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

type blankBody struct {
	Reference string `json:"reference" validate:"notblank"`
}

func TestDecodeJSONBodyNotBlank(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reference":"   "}`))
	err := DecodeJSONBody(req, &blankBody{})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, "is required", typed.Details().(map[string]string)["reference"])
}
