package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/chungtau/ledger-payments/internal/auth"
	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/event"
	"github.com/chungtau/ledger-payments/internal/storage/memory"
	"github.com/chungtau/ledger-payments/internal/workflow"
)

const (
	demoClient = "demo-client"
	richRef    = "11111111-1111-1111-1111-111111111111"
	poorRef    = "22222222-2222-2222-2222-222222222222"
)

func testConfig() *config.Config {
	return &config.Config{
		GatewayPort:    "0",
		JWTSecret:      "test-secret",
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		IdempotencyTTL: time.Minute,
		BaseCurrency:   "RSD",
	}
}

func newTestRouter(t *testing.T, redisClient *redis.Client) (http.Handler, *event.Recorder) {
	t.Helper()
	store := memory.New(memory.WithAccounts(memory.DemoAccounts(demoClient)...))
	rec := event.NewRecorder(32)
	opts := []workflow.Option{workflow.WithNotifier(rec)}

	router := SetupRouter(Dependencies{
		Config:    testConfig(),
		Logger:    zap.NewNop(),
		Store:     store,
		Transfers: workflow.NewTransferWorkflow(store, opts...),
		Payments:  workflow.NewPaymentWorkflow(store, opts...),
		Resolver:  auth.Static{"demo-token": demoClient, "other-token": "other-client"},
		Redis:     redisClient,
	})
	return router, rec
}

func call(t *testing.T, h http.Handler, method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRouter_TransferRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	router, rec := newTestRouter(t, client)

	body := `{"sender_account":"` + richRef + `","receiver_account":"` + poorRef + `","amount":"100.50"}`
	key := map[string]string{"Idempotency-Key": "transfer-1"}

	created := call(t, router, http.MethodPost, "/v1/payments/transfer", "demo-token", body, key)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	tx := decode(t, created)
	id := tx["id"].(string)
	assert.Equal(t, "AWAITING_CONFIRMATION", tx["state"])

	replay := call(t, router, http.MethodPost, "/v1/payments/transfer", "demo-token", body, key)
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("X-Idempotency-Hit"))
	assert.Equal(t, id, decode(t, replay)["id"])

	confirmed := call(t, router, http.MethodPost, "/v1/payments/confirm-transfer/"+id, "demo-token", "", nil)
	require.Equal(t, http.StatusOK, confirmed.Code, confirmed.Body.String())
	assert.Equal(t, true, decode(t, confirmed)["executed"])

	again := call(t, router, http.MethodPost, "/v1/payments/confirm-transfer/"+id, "demo-token", "", nil)
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, "TRANSACTION_NOT_PENDING", decode(t, again)["code"])

	balance := call(t, router, http.MethodGet, "/v1/accounts/"+poorRef+"/balance", "demo-token", "", nil)
	require.Equal(t, http.StatusOK, balance.Code)
	assert.Equal(t, "5100.50", decode(t, balance)["balance"])

	got := call(t, router, http.MethodGet, "/v1/payments/"+id, "demo-token", "", nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "COMPLETED", decode(t, got)["state"])

	types := []event.Type{}
	for _, evt := range rec.Drain() {
		types = append(types, evt.Type)
	}
	assert.Equal(t, []event.Type{event.TypeCreated, event.TypeCompleted}, types)
}

func TestRouter_WithoutRedis(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	assert.Equal(t, http.StatusOK, call(t, router, http.MethodGet, "/health", "", "", nil).Code)

	ready := call(t, router, http.MethodGet, "/health/ready", "", "", nil)
	assert.Equal(t, http.StatusOK, ready.Code)

	assert.Equal(t, http.StatusUnauthorized, call(t, router, http.MethodGet, "/v1/accounts", "", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, router, http.MethodPost, "/auth/dev/token", "", `{}`, nil).Code)

	list := call(t, router, http.MethodGet, "/v1/accounts", "demo-token", "", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.EqualValues(t, 3, decode(t, list)["total_count"])

	// another client's accounts read as missing
	foreign := call(t, router, http.MethodGet, "/v1/accounts/"+richRef+"/balance", "other-token", "", nil)
	assert.Equal(t, http.StatusNotFound, foreign.Code)

	opened := call(t, router, http.MethodPost, "/v1/accounts", "other-token", `{"currency":"rsd","initial_balance":"10"}`, nil)
	require.Equal(t, http.StatusCreated, opened.Code, opened.Body.String())

	payment := `{"sender_account":"` + richRef + `","amount":"10","payment_code":"289","purpose":"rent"}`
	created := call(t, router, http.MethodPost, "/v1/payments/payment", "demo-token", payment, nil)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	id := decode(t, created)["id"].(string)

	stranger := call(t, router, http.MethodPost, "/v1/payments/confirm-payment/"+id, "other-token", "", nil)
	assert.Equal(t, http.StatusForbidden, stranger.Code)

	confirmed := call(t, router, http.MethodPost, "/v1/payments/confirm-payment/"+id, "demo-token", "", nil)
	assert.Equal(t, http.StatusOK, confirmed.Code, confirmed.Body.String())
}

type flakyStore struct{ err error }

func (f *flakyStore) Ping(context.Context) error { return f.err }

func TestUpdateHealth(t *testing.T) {
	_, hs := newGRPCServer()
	store := &flakyStore{}
	ctx := context.Background()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		res, err := hs.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return res.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	updateHealth(ctx, store, hs, zap.NewNop())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	store.err = errors.New("connection refused")
	updateHealth(ctx, store, hs, zap.NewNop())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}
