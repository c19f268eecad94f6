package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"says/backend/internal/domain"
)

func hourBucketsAgo(n int) int64 {
	return time.Now().UTC().Truncate(time.Hour).Add(-time.Duration(n) * time.Hour).Unix()
}

func TestSecurityHeaders(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	for header, want := range map[string]string{
		"X-Content-Type-Options":      "nosniff",
		"X-Frame-Options":             "DENY",
		"Referrer-Policy":             "strict-origin-when-cross-origin",
		"Cross-Origin-Opener-Policy":  "same-origin",
		"Access-Control-Allow-Origin": "*",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Fatalf("header %s: expected %q, got %q", header, want, got)
		}
	}
}

func TestMissingBearerToken(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/products")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer garbage-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	server, _ := newTestServer(t)

	salesToken := login(t, server, "azlan", "sales-secret-1")

	// No CSRF header at all.
	resp := doRequest(t, server, http.MethodPost, "/api/v1/van/load", salesToken, "", domain.LoadStockRequest{
		Items: []domain.LoadItem{{ProductID: "prod-kicap-01", Qty: 1}},
	})
	requireStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// A bogus token is no better.
	resp = doRequest(t, server, http.MethodPost, "/api/v1/van/load", salesToken, "bogus", domain.LoadStockRequest{
		Items: []domain.LoadItem{{ProductID: "prod-kicap-01", Qty: 1}},
	})
	requireStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// With a real token the same request goes through.
	csrf := fetchCSRFToken(t, server)
	resp = doRequest(t, server, http.MethodPost, "/api/v1/van/load", salesToken, csrf, domain.LoadStockRequest{
		Items: []domain.LoadItem{{ProductID: "prod-kicap-01", Qty: 1}},
	})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestReadsSkipCSRFCheck(t *testing.T) {
	server, _ := newTestServer(t)

	salesToken := login(t, server, "azlan", "sales-secret-1")
	resp := doRequest(t, server, http.MethodGet, "/api/v1/products", salesToken, "", nil)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestLoginRateLimited(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(domain.LoginRequest{Username: "azlan", Password: "wrong"})
	for i := 0; i < 5; i++ {
		resp, err := http.Post(server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("login attempt %d failed: %v", i, err)
		}
		requireStatus(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	}

	resp, err := http.Post(server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("final login attempt failed: %v", err)
	}
	requireStatus(t, resp, http.StatusTooManyRequests)
	resp.Body.Close()
}

func TestOptionsPreflight(t *testing.T) {
	server, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, server.URL+"/api/v1/sales", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestCSRFTokenWindow(t *testing.T) {
	api, _ := newTestAPI(t)

	current := api.generateCSRFToken()
	if !api.validateCSRFToken(current) {
		t.Fatalf("current-hour token must validate")
	}
	if api.validateCSRFToken("") {
		t.Fatalf("empty token must not validate")
	}
	if api.validateCSRFToken("deadbeef") {
		t.Fatalf("forged token must not validate")
	}

	// The previous hour bucket stays valid so tokens do not die mid-request
	// at the top of the hour.
	prev := api.csrfTokenForHour(hourBucketsAgo(1))
	if !api.validateCSRFToken(prev) {
		t.Fatalf("previous-hour token must still validate")
	}
	stale := api.csrfTokenForHour(hourBucketsAgo(2))
	if api.validateCSRFToken(stale) {
		t.Fatalf("two-hour-old token must be rejected")
	}
}

func TestBodySizeLimit(t *testing.T) {
	server, _ := newTestServer(t)

	salesToken := login(t, server, "azlan", "sales-secret-1")
	csrf := fetchCSRFToken(t, server)

	oversized := bytes.Repeat([]byte("a"), (1<<20)+1024)
	payload := []byte(`{"customer_id":"cust-kedai-01","items":[{"product_id":"`)
	payload = append(payload, oversized...)
	payload = append(payload, []byte(`","product_name":"x","physical_stock":1}]}`)...)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/stock-audits", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+salesToken)
	req.Header.Set("X-CSRF-Token", csrf)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}
