package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/lifecycle"
	"auction-engine/internal/notification"
	"auction-engine/internal/payment"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"
	"auction-engine/internal/settlement"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// TestEnv wires the full engine over the in-memory repository.
type TestEnv struct {
	Router     *gin.Engine
	Repo       *repository.MemoryRepo
	Scheduler  *lifecycle.Scheduler
	Resolver   *settlement.Resolver
	Gateway    *payment.SimulatedGateway
	Dispatcher *notification.Dispatcher
}

// SetupTestEnv builds the engine. When autoCallback is false the gateway
// accepts captures without reporting an outcome, leaving the payment for
// the /payments/callback endpoint.
func SetupTestEnv(t *testing.T, autoCallback bool, declineUsers ...string) *TestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepo()
	dispatcher := notification.NewDispatcher(repo, notification.Options{
		Workers:        2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	dispatcher.Start()

	gateway := payment.NewSimulatedGateway(declineUsers, 0)
	resolver := settlement.NewResolver(repo, repo, gateway, dispatcher, settlement.Options{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	if autoCallback {
		gateway.OnResult(resolver.HandleCaptureResult)
	}

	scheduler := lifecycle.NewScheduler(repo, resolver, lifecycle.Options{})
	service := bidding.NewBiddingService(repo, repo, dispatcher, bidding.Options{})

	t.Cleanup(func() {
		gateway.Wait()
		resolver.Wait()
		dispatcher.Close()
	})

	return &TestEnv{
		Router:     server.SetupRouter(service, resolver),
		Repo:       repo,
		Scheduler:  scheduler,
		Resolver:   resolver,
		Gateway:    gateway,
		Dispatcher: dispatcher,
	}
}

// Tick runs one lifecycle pass at now and waits for the resulting
// payment submissions and callbacks.
func (e *TestEnv) Tick(t *testing.T, now time.Time) lifecycle.Report {
	t.Helper()
	report, err := e.Scheduler.Tick(context.Background(), now)
	require.NoError(t, err)
	e.Resolver.Wait()
	e.Gateway.Wait()
	return report
}

// CreateActiveAuction creates an auction through the API that started now
// and ends after d, then activates it.
func (e *TestEnv) CreateActiveAuction(t *testing.T, startingPrice, increment string, d time.Duration) map[string]any {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, e.Router, http.MethodPost, "/auctions", map[string]any{
		"ad_id":          "ad-integration",
		"starting_price": startingPrice,
		"bid_increment":  increment,
		"end_time":       time.Now().Add(d).UTC().Format(time.RFC3339Nano),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	report := e.Tick(t, time.Now().UTC())
	require.GreaterOrEqual(t, report.Activated, 1)
	return resp
}

// ExecuteRequest executes an HTTP request and returns the response recorder.
func ExecuteRequest(t *testing.T, router *gin.Engine, method, url string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := ExecuteRequest(t, router, method, url, reqBody)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		if err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}

		if w.Code == http.StatusCreated {
			resp = resp["data"].(map[string]any)
		}
	}

	return resp, w
}
