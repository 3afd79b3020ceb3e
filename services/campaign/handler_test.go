package campaign

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"sendloop-engine/pkg/middleware"
	"sendloop-engine/pkg/taskname"
)

func newTestRouter(t *testing.T, f *fixture) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(middleware.Error())
	NewHandler(f.svc, f.reconciler, f.enq).Register(engine)
	return engine
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(middleware.TenantHeader, tenant)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLaunchEndpoint(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	rec := doJSON(t, router, http.MethodPost, "/v1/campaigns/launch", testTenant, gin.H{
		"name":        "spring-sale",
		"template_id": f.tmpl.ID,
		"recipients":  []string{"+628111111111", "+628222222222"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		TotalCost        int64 `json:"total_cost"`
		RemainingBalance int64 `json:"remaining_balance"`
		Campaign         struct {
			ID     string `json:"ID"`
			Status Status `json:"Status"`
		} `json:"campaign"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2*testUnitPrice, body.TotalCost)
}

func TestLaunchEndpointRequiresTenantHeader(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	rec := doJSON(t, router, http.MethodPost, "/v1/campaigns/launch", "", gin.H{
		"name":        "spring-sale",
		"template_id": f.tmpl.ID,
		"recipients":  []string{"+628111111111"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLaunchEndpointValidationError(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	rec := doJSON(t, router, http.MethodPost, "/v1/campaigns/launch", testTenant, gin.H{
		"template_id": f.tmpl.ID,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "VALIDATION_FAILED", body.Error.Code)
}

func TestCancelEndpoint(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	res := f.launch(t, "+628111111111")
	rec := doJSON(t, router, http.MethodPost, "/v1/campaigns/"+res.Campaign.ID+"/cancel", testTenant, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RefundAmount int64 `json:"refund_amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, testUnitPrice, body.RefundAmount)

	// Second cancel is rejected with a client error, not a 5xx.
	rec = doJSON(t, router, http.MethodPost, "/v1/campaigns/"+res.Campaign.ID+"/cancel", testTenant, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	res := f.launch(t, "+628111111111")
	rec := doJSON(t, router, http.MethodGet, "/v1/campaigns/"+res.Campaign.ID+"/status", testTenant, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		IsInGracePeriod  bool  `json:"is_in_grace_period"`
		GraceRemainingMS int64 `json:"grace_remaining_ms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.IsInGracePeriod)
	require.Positive(t, body.GraceRemainingMS)

	rec = doJSON(t, router, http.MethodGet, "/v1/campaigns/nope/status", testTenant, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateStatusEndpointRejectsUnknownTarget(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	res := f.launch(t, "+628111111111")
	rec := doJSON(t, router, http.MethodPatch, "/v1/campaigns/"+res.Campaign.ID+"/status", testTenant,
		gin.H{"status": "completed"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeliveryWebhookEnqueuesReconcile(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	res := f.launch(t, "+628111111111")
	msgs := f.markDispatched(t, res.Campaign.ID)

	rec := doJSON(t, router, http.MethodPost, "/v1/webhooks/delivery", "", []DeliveryEvent{
		{DispatchID: msgs[0].DispatchID, Status: "delivered"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, f.enq.typeNames(), taskname.DeliveryReconcile)

	// Queued, not applied: the dispatcher owns the reconcile.
	require.Zero(t, f.reload(t, res.Campaign.ID).DeliveredCount)
}

func TestDeliveryWebhookFallsBackInline(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	res := f.launch(t, "+628111111111")
	msgs := f.markDispatched(t, res.Campaign.ID)
	f.enq.fail = true

	rec := doJSON(t, router, http.MethodPost, "/v1/webhooks/delivery", "", []DeliveryEvent{
		{DispatchID: msgs[0].DispatchID, Status: "delivered"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.reload(t, res.Campaign.ID).DeliveredCount)
}

func TestDeliveryWebhookRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/delivery",
		bytes.NewBufferString(`{"not":"an array"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEndpointScopedToTenant(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f)

	for i := 0; i < 3; i++ {
		f.launch(t, fmt.Sprintf("+62811%07d", i))
	}

	rec := doJSON(t, router, http.MethodGet, "/v1/campaigns", testTenant, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 3)

	rec = doJSON(t, router, http.MethodGet, "/v1/campaigns", "other-tenant", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body.Data)
}
