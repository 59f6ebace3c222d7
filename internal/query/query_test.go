package query

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/evalpipeline/internal/store/storetest"
)

func newTestRouter(t *testing.T) *gin.Engine {
	st := storetest.New(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, st)
	return r
}

func TestAnomaliesRequiresTenantHeader(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/anomalies", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnomaliesReturnsEmptyRowsForUnknownTenant(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/anomalies", nil)
	req.Header.Set("X-Tenant-Id", "tenant-a")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rows":[]`)
}

func TestRecommendedActionsDefaultsToOpenStatus(t *testing.T) {
	st := storetest.New(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, st)

	_, err := st.Pool.Exec(context.Background(), `
		INSERT INTO recommended_actions (tenant, action_id, action_type, target, target_key, decided_by, status)
		VALUES ('tenant-a', $1, 'run_investigation', '{}', 'open-target', 'test', 'open'),
		       ('tenant-a', $2, 'run_investigation', '{}', 'closed-target', 'test', 'dismissed')`,
		uuid.NewString(), uuid.NewString())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/actions/recommended", nil)
	req.Header.Set("X-Tenant-Id", "tenant-a")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"ok":true`)
	assert.Contains(t, body, `"status":"open"`)
	assert.NotContains(t, body, `"status":"dismissed"`)
}
