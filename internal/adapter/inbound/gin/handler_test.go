package gin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/iconforge/server/internal/adapter/outbound/memory"
	"github.com/iconforge/server/internal/domain/billing"
	"github.com/iconforge/server/internal/domain/credit"
	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/port/inbound"
	"github.com/iconforge/server/internal/shared/middleware"
	"github.com/iconforge/server/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testUserHeader = "X-Test-User"

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// --- Mock implementations ---

type MockBillingDomain struct {
	mock.Mock
}

func (m *MockBillingDomain) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	args := m.Called(string(payload), signature)
	return args.Error(0)
}

func (m *MockBillingDomain) CreateCheckout(ctx context.Context, userID, email string, tier model.Tier) (*model.CheckoutSessionResponse, error) {
	args := m.Called(userID, email, tier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CheckoutSessionResponse), args.Error(1)
}

func (m *MockBillingDomain) VerifyCheckout(ctx context.Context, userID, sessionID string) (*model.CheckoutVerification, error) {
	args := m.Called(userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CheckoutVerification), args.Error(1)
}

func (m *MockBillingDomain) CancelSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

type stubRunner struct {
	reset     *inbound.ResetResult
	reconcile *inbound.ReconcileResult
	err       error
}

func (r *stubRunner) RunReset(ctx context.Context) (*inbound.ResetResult, error) {
	return r.reset, r.err
}

func (r *stubRunner) RunReconcile(ctx context.Context) (*inbound.ReconcileResult, error) {
	return r.reconcile, r.err
}

// --- Fixtures ---

// fakeAuth stands in for the JWT middleware.
func fakeAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(testUserHeader); id != "" {
			c.Set(middleware.UserIDKey, id)
			c.Set(middleware.EmailKey, id+"@example.com")
		}
		c.Next()
	}
}

type fixture struct {
	store   *memory.Store
	ledger  *credit.Domain
	billing *MockBillingDomain
	runner  *stubRunner
	router  *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ledger := credit.NewCreditDomain(
		store.Accounts(),
		store.UpdateLogs(),
		store.SubscriptionRecords(),
		credit.Config{StorageTimeout: time.Second},
		zap.NewNop(),
		credit.WithClock(func() time.Time { return fixedNow }),
	)
	billingDomain := new(MockBillingDomain)
	runner := &stubRunner{}

	r := gin.New()
	RegisterWebhookRoutes(&r.RouterGroup, NewWebhookAdapter(billingDomain))
	RegisterCronRoutes(&r.RouterGroup, NewCronAdapter(runner), "cron-secret")

	v1 := r.Group("/api/v1", fakeAuth())
	RegisterCreditsRoutes(v1, NewCreditsAdapter(ledger))
	RegisterBillingRoutes(v1, NewBillingAdapter(billingDomain))

	return &fixture{store: store, ledger: ledger, billing: billingDomain, runner: runner, router: r}
}

func (f *fixture) do(method, path, user string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

// --- Credits ---

func TestCredits_GetBalance(t *testing.T) {
	t.Run("creates free account for owner", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("GET", "/api/v1/users/user-1/credits", "user-1", nil, nil)

		require.Equal(t, http.StatusOK, w.Code)
		var balance model.Balance
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
		assert.Equal(t, model.TierFree, balance.Tier)
		assert.Equal(t, 5, balance.Total)
		assert.Equal(t, 5, balance.Remaining)
		assert.Nil(t, balance.Subscription)
	})

	t.Run("other user is rejected", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("GET", "/api/v1/users/user-1/credits", "user-2", nil, nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "not_authorized", errorCode(t, w))
		assert.Nil(t, f.store.Account("user-1"))
	})

	t.Run("unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("GET", "/api/v1/users/user-1/credits", "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestCredits_Deduct(t *testing.T) {
	t.Run("debits until the allotment is spent", func(t *testing.T) {
		f := newFixture(t)
		f.do("GET", "/api/v1/users/user-1/credits", "user-1", nil, nil)

		for i := 1; i <= 5; i++ {
			w := f.do("POST", "/api/v1/users/user-1/credits/deduct", "user-1", nil, nil)
			require.Equal(t, http.StatusOK, w.Code)

			var result model.DeductResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
			assert.Equal(t, i, result.Used)
			assert.Equal(t, 5-i, result.Remaining)
			assert.Equal(t, 5, result.Total)
		}

		w := f.do("POST", "/api/v1/users/user-1/credits/deduct", "user-1", nil, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "insufficient_credits", errorCode(t, w))
		assert.Equal(t, 5, f.store.Account("user-1").UsedCredits)
	})

	t.Run("missing account", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/v1/users/user-1/credits/deduct", "user-1", nil, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "not_found", errorCode(t, w))
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newFixture(t)
		f.do("GET", "/api/v1/users/user-1/credits", "user-1", nil, nil)
		f.store.Fail(memory.OpMutate, fmt.Errorf("connection refused"))

		w := f.do("POST", "/api/v1/users/user-1/credits/deduct", "user-1", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "storage_failure", errorCode(t, w))
	})
}

// --- Webhooks ---

func TestWebhook_Stripe(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		err       error
		wantCode  int
		wantError string
	}{
		{"processed", "t=1,v1=abc", nil, http.StatusOK, ""},
		{"invalid signature", "t=1,v1=bad", billing.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
		{"invalid event", "t=1,v1=abc", billing.ErrInvalidEvent, http.StatusBadRequest, "invalid_event"},
		{"in progress", "t=1,v1=abc", billing.ErrEventInProgress, http.StatusConflict, "conflict"},
		{"tier change failed", "t=1,v1=abc", fmt.Errorf("apply: %w", credit.ErrTierChangeFailed), http.StatusInternalServerError, "tier_change_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.billing.On("HandleWebhook", `{"id":"evt_1"}`, tt.signature).Return(tt.err)

			w := f.do("POST", "/webhooks/stripe", "", []byte(`{"id":"evt_1"}`),
				map[string]string{StripeSignatureHeader: tt.signature})

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, errorCode(t, w))
			}
			f.billing.AssertExpectations(t)
		})
	}

	t.Run("missing signature", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/webhooks/stripe", "", []byte(`{}`), nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_signature", errorCode(t, w))
		f.billing.AssertNotCalled(t, "HandleWebhook", mock.Anything, mock.Anything)
	})

	t.Run("oversized payload", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/webhooks/stripe", "", bytes.Repeat([]byte("a"), maxWebhookBody+1),
			map[string]string{StripeSignatureHeader: "t=1,v1=abc"})

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

// --- Billing ---

func TestBilling_CreateCheckout(t *testing.T) {
	t.Run("paid tier", func(t *testing.T) {
		f := newFixture(t)
		f.billing.On("CreateCheckout", "user-1", "user-1@example.com", model.TierPro).
			Return(&model.CheckoutSessionResponse{SessionID: "cs_1", URL: "https://checkout.example/cs_1"}, nil)

		w := f.do("POST", "/api/v1/billing/checkout", "user-1", []byte(`{"tier":"pro"}`), nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp model.CheckoutSessionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "cs_1", resp.SessionID)
	})

	t.Run("unknown tier", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/v1/billing/checkout", "user-1", []byte(`{"tier":"platinum"}`), nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		f.billing.AssertNotCalled(t, "CreateCheckout", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("free tier is not purchasable", func(t *testing.T) {
		f := newFixture(t)
		f.billing.On("CreateCheckout", "user-1", "user-1@example.com", model.TierFree).
			Return(nil, billing.ErrInvalidTier)

		w := f.do("POST", "/api/v1/billing/checkout", "user-1", []byte(`{"tier":"FREE"}`), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("provider down", func(t *testing.T) {
		f := newFixture(t)
		f.billing.On("CreateCheckout", "user-1", "user-1@example.com", model.TierEnterprise).
			Return(nil, billing.ErrProviderFailure)

		w := f.do("POST", "/api/v1/billing/checkout", "user-1", []byte(`{"tier":"enterprise"}`), nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "provider_failure", errorCode(t, w))
	})
}

func TestBilling_VerifyCheckout(t *testing.T) {
	f := newFixture(t)
	f.billing.On("VerifyCheckout", "user-1", "cs_1").
		Return(&model.CheckoutVerification{SessionID: "cs_1", Success: true, Status: "complete", Tier: model.TierPro}, nil)
	f.billing.On("VerifyCheckout", "user-2", "cs_1").Return(nil, billing.ErrNotAuthorized)

	w := f.do("GET", "/api/v1/billing/checkout/cs_1", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result model.CheckoutVerification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, model.TierPro, result.Tier)

	w = f.do("GET", "/api/v1/billing/checkout/cs_1", "user-2", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBilling_CancelSubscription(t *testing.T) {
	f := newFixture(t)
	f.billing.On("CancelSubscription", "user-1").
		Return(&model.Subscription{ExternalID: "sub_1", CancelAtPeriodEnd: true}, nil)
	f.billing.On("CancelSubscription", "user-2").Return(nil, billing.ErrSubscriptionNotFound)

	w := f.do("POST", "/api/v1/billing/subscription/cancel", "user-1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancel_at_period_end":true`)

	w = f.do("POST", "/api/v1/billing/subscription/cancel", "user-2", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Cron ---

func TestCron(t *testing.T) {
	secret := map[string]string{middleware.CronSecretHeader: "cron-secret"}

	t.Run("reset returns count", func(t *testing.T) {
		f := newFixture(t)
		f.runner.reset = &inbound.ResetResult{Scanned: 4, Reset: 3, Failed: 1}

		w := f.do("POST", "/cron/reset-credits", "", nil, secret)

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, float64(3), body["count"])
	})

	t.Run("reconcile returns processed", func(t *testing.T) {
		f := newFixture(t)
		f.runner.reconcile = &inbound.ReconcileResult{Candidates: 5, Exhausted: 1, Retried: 2, Succeeded: 2}

		w := f.do("POST", "/cron/retry-credit-updates", "", nil, secret)

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, float64(2), body["processed"])
	})

	t.Run("batch running elsewhere", func(t *testing.T) {
		f := newFixture(t)
		f.runner.err = worker.ErrBatchInProgress

		w := f.do("POST", "/cron/reset-credits", "", nil, secret)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("missing secret", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/cron/reset-credits", "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
