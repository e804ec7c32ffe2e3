package handler

import (
	"encoding/json"
	"net/http"

	"portal-auth/internal/config"
	"portal-auth/internal/service"
	"portal-auth/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// AuthHandler handles HTTP requests for the authentication flow.
type AuthHandler struct {
	auth     *service.AuthService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		validate: validator.New(),
		logger:   logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func failureResponse(message string) Response {
	return Response{Success: false, Error: message}
}

// RegisterRoutes registers the authentication and submission routes.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
		r.Post("/pin", h.SetPin)
		r.Post("/pin/reset", h.ResetPin)
		r.Post("/logout", h.Logout)
		r.Get("/session", h.Session)
		r.Get("/form-meta", h.FormMeta)
	})

	router.Post("/submissions", h.Submit)
	router.Get("/limits/{action}", h.LimitStats)
}

type loginRequest struct {
	Phone           string `json:"phone" validate:"required,min=10,max=16"`
	Pin             string `json:"pin" validate:"required,min=4,max=6"`
	Honeypot        string `json:"honeypot"`
	ChallengeAnswer string `json:"challengeAnswer"`
	Remember        bool   `json:"remember"`
}

// Login handles phone/PIN authentication.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, service.MsgInvalidCredentials)
		return
	}

	result, err := h.auth.Login(service.LoginRequest{
		Phone:           req.Phone,
		Pin:             req.Pin,
		HoneypotValue:   req.Honeypot,
		ChallengeAnswer: req.ChallengeAnswer,
		Remember:        req.Remember,
	})
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	h.respondWithResult(w, result)
}

type registerRequest struct {
	Phone         string `json:"phone" validate:"required,min=10,max=16"`
	Name          string `json:"name" validate:"required,max=200"`
	Email         string `json:"email" validate:"omitempty,email"`
	AccountNumber string `json:"accountNumber" validate:"omitempty,max=32"`
	Settlement    string `json:"settlement" validate:"required,max=100"`
	Street        string `json:"street" validate:"required,max=200"`
	HouseNumber   string `json:"houseNumber" validate:"required,max=16"`
	Apartment     string `json:"apartment" validate:"omitempty,max=16"`
	Honeypot      string `json:"honeypot"`
}

// Register handles phase one of registration: the profile fields.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Проверьте правильность заполнения формы")
		return
	}

	result, err := h.auth.Register(service.RegisterRequest{
		Phone:         req.Phone,
		Name:          req.Name,
		Email:         req.Email,
		AccountNumber: req.AccountNumber,
		Settlement:    req.Settlement,
		Street:        req.Street,
		HouseNumber:   req.HouseNumber,
		Apartment:     req.Apartment,
		HoneypotValue: req.Honeypot,
	})
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	h.respondWithResult(w, result)
}

type pinRequest struct {
	Phone   string `json:"phone" validate:"required,min=10,max=16"`
	Pin     string `json:"pin" validate:"required,min=4,max=6"`
	Confirm string `json:"confirm" validate:"required,min=4,max=6"`
}

// SetPin completes registration by setting the account PIN.
func (h *AuthHandler) SetPin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, service.MsgInvalidPin)
		return
	}

	result, err := h.auth.SetPin(req.Phone, req.Pin, req.Confirm)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to set PIN")
		return
	}

	h.respondWithResult(w, result)
}

// ResetPin replaces the PIN on an existing account.
func (h *AuthHandler) ResetPin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, service.MsgInvalidPin)
		return
	}

	result, err := h.auth.ResetPin(req.Phone, req.Pin, req.Confirm)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to reset PIN")
		return
	}

	h.respondWithResult(w, result)
}

// Logout destroys the current session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout()
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// Session returns the record owned by the active session, or 401.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	record, err := h.auth.CurrentUser()
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	if record == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	// Never ship the digest to the client.
	sanitized := *record
	sanitized.PinDigest = ""
	h.respondWithJSON(w, http.StatusOK, successResponse(sanitized, ""))
}

// FormMeta tells the client which hidden field name to render.
func (h *AuthHandler) FormMeta(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"honeypotField": h.auth.HoneypotField(),
	}, ""))
}

type submitRequest struct {
	Content    string `json:"content" validate:"required,max=10000"`
	Identifier string `json:"identifier" validate:"required,max=64"`
	Action     string `json:"action" validate:"required,max=32"`
	Honeypot   string `json:"honeypot"`
}

// Submit routes a free-text submission through the spam and rate gates.
func (h *AuthHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid submission")
		return
	}

	result, err := h.auth.SubmitText(service.SubmitRequest{
		Content:       req.Content,
		Identifier:    req.Identifier,
		Action:        config.ActionKind(req.Action),
		HoneypotValue: req.Honeypot,
	})
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Submission failed")
		return
	}

	h.respondWithResult(w, result)
}

// LimitStats exposes the limiter counters for UI polling.
func (h *AuthHandler) LimitStats(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		h.respondWithError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	stats := h.auth.Stats(identifier, config.ActionKind(action))
	h.respondWithJSON(w, http.StatusOK, successResponse(stats, ""))
}

// respondWithResult maps a gate decision onto an HTTP response. Silent
// results answer with a neutral success so a tripped trap reveals nothing.
func (h *AuthHandler) respondWithResult(w http.ResponseWriter, result *service.Result) {
	if result.Silent {
		h.respondWithJSON(w, http.StatusOK, successResponse(nil, ""))
		return
	}
	if result.OK {
		h.respondWithJSON(w, http.StatusOK, successResponse(result, result.Message))
		return
	}

	status := http.StatusUnprocessableEntity
	if result.Locked || result.RetryAfter > 0 {
		status = http.StatusTooManyRequests
	}
	response := failureResponse(result.Message)
	response.Data = result
	h.respondWithJSON(w, status, response)
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.logger.Warn("HTTP error response",
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, failureResponse(message))
}
