package orders

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"orderhub/order-pipeline/internal/auth"
	"orderhub/order-pipeline/internal/domain"
)

// withUser injects the requester id the way the auth middleware does.
func withUser(userID int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
		})
	}
}

func newTestRouter(userID int64) (*chi.Mux, *fakePublisher) {
	svc, _, _, publisher := newTestService()
	handler := NewHandler(svc, discardLogger())

	r := chi.NewRouter()
	r.Use(withUser(userID))
	r.Post("/orders", handler.HandleCreate)
	r.Get("/orders/{orderID}", handler.HandleGet)
	r.Patch("/orders/{orderID}", handler.HandleUpdateStatus)
	r.Get("/orders/user/{userID}", handler.HandleListForUser)

	return r, publisher
}

func TestHandlerCreate(t *testing.T) {
	t.Run("returns 201 with the pending order", func(t *testing.T) {
		r, publisher := newTestRouter(7)

		body := `{"items":[{"name":"ps5","qty":1}],"total_price":"499.99"}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()

		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var order domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if order.Status != domain.OrderStatusPending {
			t.Errorf("expected status PENDING, got %s", order.Status)
		}
		if order.UserID != 7 {
			t.Errorf("expected user_id 7, got %d", order.UserID)
		}
		publisher.wait(t)
	})

	t.Run("returns 422 for a non-positive price", func(t *testing.T) {
		r, _ := newTestRouter(7)

		body := `{"items":[{"name":"ps5"}],"total_price":"0"}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()

		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d", rec.Code)
		}
	})

	t.Run("returns 400 for malformed json", func(t *testing.T) {
		r, _ := newTestRouter(7)

		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("{"))
		rec := httptest.NewRecorder()

		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestHandlerGet(t *testing.T) {
	t.Run("returns 404 for an unknown order", func(t *testing.T) {
		r, _ := newTestRouter(7)

		req := httptest.NewRequest(http.MethodGet, "/orders/"+uuid.New().String(), nil)
		rec := httptest.NewRecorder()

		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("returns 400 for a malformed id", func(t *testing.T) {
		r, _ := newTestRouter(7)

		req := httptest.NewRequest(http.MethodGet, "/orders/not-a-uuid", nil)
		rec := httptest.NewRecorder()

		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("returns 403 without leaking the order to a non-owner", func(t *testing.T) {
		svc, _, _, publisher := newTestService()
		handler := NewHandler(svc, discardLogger())

		order, err := svc.Create(t.Context(), validDraft(), 9)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		publisher.wait(t)

		r := chi.NewRouter()
		r.Use(withUser(7))
		r.Get("/orders/{orderID}", handler.HandleGet)

		req := httptest.NewRequest(http.MethodGet, "/orders/"+order.ID, nil)
		rec := httptest.NewRecorder()

		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "499.99") {
			t.Error("response leaked order contents")
		}
	})
}

func TestHandlerUpdateStatus(t *testing.T) {
	t.Run("returns 422 for an invalid transition", func(t *testing.T) {
		svc, _, _, publisher := newTestService()
		handler := NewHandler(svc, discardLogger())

		order, err := svc.Create(t.Context(), validDraft(), 7)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		publisher.wait(t)

		r := chi.NewRouter()
		r.Use(withUser(7))
		r.Patch("/orders/{orderID}", handler.HandleUpdateStatus)

		req := httptest.NewRequest(http.MethodPatch, "/orders/"+order.ID, strings.NewReader(`{"status":"SHIPPED"}`))
		rec := httptest.NewRecorder()

		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestHandlerListForUser(t *testing.T) {
	t.Run("returns 403 for another user's list", func(t *testing.T) {
		r, _ := newTestRouter(7)

		req := httptest.NewRequest(http.MethodGet, "/orders/user/9", nil)
		rec := httptest.NewRecorder()

		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})
}
