package handler

import (
	"encoding/json"
	"net/http"

	"portal-auth/internal/isolation"
	"portal-auth/internal/service"
	"portal-auth/internal/store"
	"portal-auth/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// AdminHandler handles the admin dashboard surface: login, user listing,
// security events, and the storage audit sweep.
type AdminHandler struct {
	auth     *service.AuthService
	store    store.Store
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAdminHandler(auth *service.AuthService, st store.Store, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		auth:     auth,
		store:    st,
		validate: validator.New(),
		logger:   logger,
	}
}

// RegisterRoutes registers the admin routes.
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		// Admin-gated routes. The service layer re-checks the session on
		// every call; the middleware just fails fast.
		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/users", h.Users)
			r.Get("/events", h.Events)
			r.Get("/audit", h.Audit)
		})
	})
}

func (h *AdminHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.auth.IsAdmin() {
			h.respondWithError(w, http.StatusForbidden, "Admin session required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type adminLoginRequest struct {
	Password        string `json:"password" validate:"required,max=128"`
	Honeypot        string `json:"honeypot"`
	ChallengeAnswer string `json:"challengeAnswer"`
}

// Login verifies the admin password.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, service.MsgInvalidAdminPassword)
		return
	}

	result, err := h.auth.AdminLogin(service.AdminLoginRequest{
		Password:        req.Password,
		HoneypotValue:   req.Honeypot,
		ChallengeAnswer: req.ChallengeAnswer,
	})
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Admin login failed")
		return
	}

	if result.Silent {
		h.respondWithJSON(w, http.StatusOK, successResponse(nil, ""))
		return
	}
	if result.OK {
		h.respondWithJSON(w, http.StatusOK, successResponse(result, ""))
		return
	}

	status := http.StatusUnauthorized
	if result.Locked || result.RetryAfter > 0 {
		status = http.StatusTooManyRequests
	}
	response := failureResponse(result.Message)
	response.Data = result
	h.respondWithJSON(w, status, response)
}

// Logout destroys the admin session.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.AdminLogout()
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// Users returns every registered record for the dashboard.
func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.auth.AllUsers()
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	// Strip digests before the records leave the process.
	sanitized := make([]isolation.UserRecord, 0, len(users))
	for _, user := range users {
		record := *user
		record.PinDigest = ""
		sanitized = append(sanitized, record)
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(sanitized, ""))
}

// Events returns the recorded security events.
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(h.auth.SecurityEvents(), ""))
}

// Audit runs the storage exposure sweep on demand.
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	report := isolation.AuditDataExposure(h.store)
	h.respondWithJSON(w, http.StatusOK, successResponse(report, ""))
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *AdminHandler) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.logger.Warn("HTTP error response",
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, failureResponse(message))
}
