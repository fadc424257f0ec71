package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
)

type lineRequest struct {
	VariantID string `json:"variant_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type orderRequest struct {
	Currency string        `json:"currency" validate:"required,len=3"`
	Items    []lineRequest `json:"items" validate:"required,min=1,dive"`
}

func TestDecodeJSONBodyReportsNestedFields(t *testing.T) {
	body := `{"currency":"USD","items":[{"variant_id":"nope","quantity":0}]}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))

	var dest orderRequest
	err := DecodeJSONBody(req, &dest)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a valid uuid", details["items[0].variant_id"])
	assert.Equal(t, "must be at least 1", details["items[0].quantity"])
}

func TestDecodeJSONBodyRejectsUnknownAndTrailingInput(t *testing.T) {
	var dest orderRequest
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"currency":"USD","extra":1}`))
	require.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &dest), pkgerrors.CodeValidation))

	req = httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"currency":"USD","items":[{"variant_id":"6f1c9b8e-3a51-4a9f-9d7e-2f7a1e4c0b11","quantity":1}]} {}`))
	require.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &dest), pkgerrors.CodeValidation))
}

func TestParseQueryIntBounds(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders?limit=500", nil)
	_, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	req = httptest.NewRequest(http.MethodGet, "/orders", nil)
	limit, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, limit)
}

func TestParsePage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders?limit=5&cursor=%20abc%20", nil)
	page, err := ParsePage(req)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Limit)
	assert.Equal(t, "abc", page.Cursor)

	req = httptest.NewRequest(http.MethodGet, "/orders?limit=ten", nil)
	_, err = ParsePage(req)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseUUIDParam(t *testing.T) {
	withParam := func(value string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("orderId", value)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	id, err := ParseUUIDParam(withParam("6f1c9b8e-3a51-4a9f-9d7e-2f7a1e4c0b11"), "orderId", "order")
	require.NoError(t, err)
	assert.Equal(t, "6f1c9b8e-3a51-4a9f-9d7e-2f7a1e4c0b11", id.String())

	_, err = ParseUUIDParam(withParam("abc"), "orderId", "order")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = ParseUUIDParam(withParam(""), "orderId", "order")
	require.ErrorContains(t, err, "order id is required")
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "damaged", SanitizeString("  damaged  ", 0))
	assert.Equal(t, "dam", SanitizeString("damaged", 3))
}

func TestOptionalString(t *testing.T) {
	blank := "   "
	assert.Nil(t, OptionalString(nil, 10))
	assert.Nil(t, OptionalString(&blank, 10))
	note := " leave at door "
	got := OptionalString(&note, 0)
	require.NotNil(t, got)
	assert.Equal(t, "leave at door", *got)
}
