package auth

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadsong/backend/internal/models"
	"github.com/leadsong/backend/internal/schema"
)

type RegisterRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	DisplayName  string `json:"display_name"`
	ReferralCode string `json:"referral_code"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	ReferralCode  string    `json:"referral_code"`
	CreditBalance int64     `json:"credit_balance"`
	CreatedAt     time.Time `json:"created_at"`
}

type RegisterResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type Handler struct {
	svc     Service
	schemas *schema.Validator
	log     *slog.Logger
}

func NewHandler(svc Service, schemas *schema.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, schemas: schemas, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
	if err != nil {
		http.Error(w, `{"error":"BAD_INPUT"}`, http.StatusBadRequest)
		return
	}
	if err := h.schemas.Validate(schema.RegisterRequest, body); err != nil {
		http.Error(w, `{"error":"BAD_INPUT"}`, http.StatusBadRequest)
		return
	}
	var req RegisterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"BAD_INPUT"}`, http.StatusBadRequest)
		return
	}
	u, err := h.svc.Register(r.Context(), RegisterInput{
		Email:        req.Email,
		Password:     req.Password,
		DisplayName:  req.DisplayName,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			http.Error(w, `{"error":"EMAIL_TAKEN"}`, http.StatusConflict)
			return
		}
		h.log.Error("register failed", "error", err)
		http.Error(w, `{"error":"SERVER_ERROR"}`, http.StatusInternalServerError)
		return
	}
	token, err := h.svc.IssueToken(u.ID)
	if err != nil {
		h.log.Error("issue token failed", "error", err)
		http.Error(w, `{"error":"SERVER_ERROR"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(RegisterResponse{User: userToResponse(u), Token: token})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, `{"error":"BAD_INPUT"}`, http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, `{"error":"BAD_INPUT"}`, http.StatusBadRequest)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, `{"error":"INVALID_CREDENTIALS"}`, http.StatusUnauthorized)
			return
		}
		h.log.Error("login failed", "error", err)
		http.Error(w, `{"error":"SERVER_ERROR"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(LoginResponse{Token: token})
}

func userToResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		ReferralCode:  u.ReferralCode,
		CreditBalance: u.CreditBalance,
		CreatedAt:     u.CreatedAt,
	}
}
