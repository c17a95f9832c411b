package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// Requests with a non-numeric account id are rejected before any store or
// service call, so these tests run against an empty Handler.

func TestReceiveSettlementInvalidIDCountsRequest(t *testing.T) {
	h := NewHandler(nil, nil)
	counter := httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/settlements", "400")
	before := testutil.ToFloat64(counter)

	req := httptest.NewRequest("POST", "/api/v1/accounts/abc/settlements", strings.NewReader(`{}`))
	req = mux.SetURLVars(req, map[string]string{"id": "abc"})
	rec := httptest.NewRecorder()
	h.ReceiveSettlementHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestWithdrawInvalidIDCountsRequest(t *testing.T) {
	h := NewHandler(nil, nil)
	counter := httpRequestsTotal.WithLabelValues("POST", "/accounts/{id}/withdrawals", "400")
	before := testutil.ToFloat64(counter)

	req := httptest.NewRequest("POST", "/api/v1/accounts/abc/withdrawals", strings.NewReader(`{}`))
	req = mux.SetURLVars(req, map[string]string{"id": "abc"})
	rec := httptest.NewRecorder()
	h.WithdrawHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
