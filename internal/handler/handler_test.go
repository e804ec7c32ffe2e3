package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-auth/internal/audit"
	"portal-auth/internal/bucketing"
	"portal-auth/internal/config"
	"portal-auth/internal/hashing"
	"portal-auth/internal/isolation"
	"portal-auth/internal/ratelimit"
	"portal-auth/internal/service"
	"portal-auth/internal/session"
	"portal-auth/internal/spam"
	"portal-auth/internal/store"
	"portal-auth/internal/throttle"
	"portal-auth/internal/util"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Environment: "development",
		Session: config.SessionConfig{
			UserDuration:  30 * time.Minute,
			AdminDuration: time.Hour,
		},
		Spam: config.SpamConfig{
			ScoreThreshold: 50, MaxLinks: 3, MaxHistory: 10,
			LinkWeight: 30, RepeatWeight: 20, CapsWeight: 15, SpecialWeight: 20,
			TooShortWeight: 25, TooLongWeight: 15, DuplicateWeight: 40, KeywordWeight: 25,
			Keywords: config.DefaultSpamKeywords(),
		},
		Throttle:        config.ThrottleConfig{MaxRequestsPerMinute: 10000},
		Hashing:         config.HashingConfig{Algorithm: "sha256"},
		Admin:           config.AdminConfig{DevPassword: "admin123", ChallengeAfter: 2},
		Auth:            config.AuthConfig{ChallengeAfter: 3},
		RateLimits:      config.DefaultRateLimits(),
		CleanupInterval: time.Hour,
		CleanupMaxAge:   24 * time.Hour,
	}

	st := store.NewMemoryStore()
	buckets := bucketing.NewManager(4, 4)
	hasher := hashing.NewHasher(cfg)
	auditor := audit.NewRecorder(buckets, 100)
	sessions := session.NewManager(&cfg.Session, st)
	users := isolation.NewManager(st, sessions, hasher, isolation.NewPassthroughEnvelope(), auditor)
	limiter := ratelimit.NewLimiter(cfg, buckets)
	detector := spam.NewDetector(&cfg.Spam)
	thr := throttle.NewThrottle(&cfg.Throttle, st)

	svc := service.NewAuthService(cfg, limiter, detector, thr, sessions, users, hasher, auditor)

	router := NewRouter(
		NewAuthHandler(svc, util.Get()),
		NewAdminHandler(svc, st, util.Get()),
		util.Get(),
	)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, Response) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegistrationAndLoginFlow(t *testing.T) {
	server := newTestServer(t)

	resp, body := postJSON(t, server.URL+"/api/v1/auth/register", map[string]string{
		"phone":       "+70000000001",
		"name":        "Иван Иванов",
		"settlement":  "Черноречье",
		"street":      "Ленина",
		"houseNumber": "5",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)

	resp, body = postJSON(t, server.URL+"/api/v1/auth/pin", map[string]string{
		"phone": "+70000000001", "pin": "1234", "confirm": "1234",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)

	resp, body = postJSON(t, server.URL+"/api/v1/auth/login", map[string]interface{}{
		"phone": "+70000000001", "pin": "1234",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)

	// Session endpoint returns the profile without the digest.
	sessionResp, err := http.Get(server.URL + "/api/v1/auth/session")
	require.NoError(t, err)
	defer sessionResp.Body.Close()
	require.Equal(t, http.StatusOK, sessionResp.StatusCode)

	var sessionBody struct {
		Data isolation.UserRecord `json:"data"`
	}
	require.NoError(t, json.NewDecoder(sessionResp.Body).Decode(&sessionBody))
	assert.Equal(t, "+70000000001", sessionBody.Data.Phone)
	assert.Empty(t, sessionBody.Data.PinDigest)
}

func TestLoginFailureStatus(t *testing.T) {
	server := newTestServer(t)

	resp, body := postJSON(t, server.URL+"/api/v1/auth/login", map[string]string{
		"phone": "+70000000001", "pin": "1234",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.False(t, body.Success)
	assert.Equal(t, service.MsgInvalidCredentials, body.Error)
}

func TestLoginValidationRejectsShortPin(t *testing.T) {
	server := newTestServer(t)

	resp, _ := postJSON(t, server.URL+"/api/v1/auth/login", map[string]string{
		"phone": "+70000000001", "pin": "12",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmissionSpamRejected(t *testing.T) {
	server := newTestServer(t)

	resp, body := postJSON(t, server.URL+"/api/v1/submissions", map[string]string{
		"content":    "AAAAAAAAAA http://a.com http://b.com http://c.com http://d.com",
		"identifier": "user-1",
		"action":     "request_submission",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.False(t, body.Success)
}

func TestAdminRoutesGated(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/admin/users")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	loginResp, body := postJSON(t, server.URL+"/api/v1/admin/login", map[string]string{
		"password": "admin123",
	})
	require.Equal(t, http.StatusOK, loginResp.StatusCode)
	require.True(t, body.Success)

	usersResp, err := http.Get(server.URL + "/api/v1/admin/users")
	require.NoError(t, err)
	defer usersResp.Body.Close()
	assert.Equal(t, http.StatusOK, usersResp.StatusCode)

	auditResp, err := http.Get(server.URL + "/api/v1/admin/audit")
	require.NoError(t, err)
	defer auditResp.Body.Close()
	assert.Equal(t, http.StatusOK, auditResp.StatusCode)
}

func TestHoneypotAnswersNeutrally(t *testing.T) {
	server := newTestServer(t)

	resp, body := postJSON(t, server.URL+"/api/v1/auth/login", map[string]string{
		"phone":    "+70000000001",
		"pin":      "1234",
		"honeypot": "bot",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
	assert.Nil(t, body.Data)
}

func TestUnknownEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
