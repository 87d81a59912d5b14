package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"sunvault/pkg/auth"
	"sunvault/pkg/testutil"
)

// Covers the route wiring: JWT required for user endpoints, admin role
// required for the adjustment endpoint.
func TestRouteAuthorization(t *testing.T) {
	mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	helper := testutil.NewJWTTestHelper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	protected := router.Group("")
	protected.Use(auth.JWTAuthMiddleware(helper.Secret))
	protected.GET("/credits", GetBalance)
	admin := protected.Group("/admin")
	admin.Use(auth.AdminOnlyMiddleware())
	admin.POST("/adjust-balance", AdminAdjustBalance)

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/credits", nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		user := testutil.DefaultTestUser()
		token, err := user.GenerateExpiredJWT(helper)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/credits", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("non-admin on admin route", func(t *testing.T) {
		user := testutil.DefaultTestUser()
		token, err := user.GenerateJWT(helper)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/adjust-balance", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
	})

	t.Run("valid token reads balance", func(t *testing.T) {
		user := testutil.DefaultTestUser()
		token, err := user.GenerateJWT(helper)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}

		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM sunvault.users`).
			WithArgs(user.UserID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery(`SELECT balance_cents FROM sunvault.solar_credits`).
			WithArgs(user.UserID).
			WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(int64(42)))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/credits", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (body=%s)", w.Code, w.Body.String())
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
