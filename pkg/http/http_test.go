package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pageRequest struct {
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
	Status string `query:"status" validate:"omitempty,oneof=live degraded"`
}

func newContext(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestReadAndValidateRequestDefaults(t *testing.T) {
	c, _ := newContext("/x")
	var req pageRequest
	assert.Nil(t, ReadAndValidateRequest(c, &req))
	assert.Equal(t, 50, req.Limit)
}

func TestReadAndValidateRequestRejects(t *testing.T) {
	c, _ := newContext("/x?limit=5000&status=broken")
	var req pageRequest
	res := ReadAndValidateRequest(c, &req)
	errs, ok := res.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 2)
	assert.Equal(t, "ERR_LTE", errs[0].Code)
	assert.Equal(t, "limit", errs[0].Field)
	assert.Equal(t, "ERR_ONEOF", errs[1].Code)
	assert.Equal(t, "status must be one of: live, degraded", errs[1].Message)
}

func TestReadAndValidateRequestBindError(t *testing.T) {
	c, _ := newContext("/x?limit=abc")
	var req pageRequest
	errs, ok := ReadAndValidateRequest(c, &req).([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.NotEqual(t, "ERR_LTE", errs[0].Code)
}

func TestAppErrorResponseUsesStatus(t *testing.T) {
	c, rec := newContext("/x")
	require.NoError(t, AppErrorResponse(c, NotFoundError("no cycle has completed yet")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Status int        `json:"status"`
		Data   []AppError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, body.Status)
	assert.Equal(t, "ERR_NOT_FOUND", body.Data[0].Code)
}

func TestAppErrorResponseHidesUnknownErrors(t *testing.T) {
	c, rec := newContext("/x")
	require.NoError(t, AppErrorResponse(c, assert.AnError))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}
