package users

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/auth"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/response"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Handler struct {
	service ServiceInterface
	logger  *zap.Logger
}

func NewHandler(service ServiceInterface, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidCredentials) {
		response.Fail(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
		return
	}
	response.Error(w, h.logger, err)
}

func principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	pr, ok := auth.FromContext(r.Context())
	if !ok {
		response.Fail(w, http.StatusUnauthorized, "unauthenticated", "User not authenticated")
		return nil, false
	}
	return pr, true
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		response.Fail(w, http.StatusBadRequest, "invalid_id", "Invalid id in path")
		return 0, false
	}
	return id, true
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	session, err := h.service.Login(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, fmt.Sprintf("Welcome, %s", session.User.FullName), session)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.service.Logout(r.Context(), pr); err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, "Logged out", nil)
}

// Me returns the account behind the current token.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), pr.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, "User retrieved successfully", user)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	params := pagination.ParseParams(r)
	users, total, err := h.service.ListUsers(r.Context(), r.URL.Query().Get("search"), params)
	if err != nil {
		h.fail(w, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	response.OK(w, "Users retrieved successfully", PaginatedUserListResponse{
		Users:      users,
		Pagination: params.Meta(total),
	})
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, "User retrieved successfully", user)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(w, r)
	if !ok {
		return
	}
	var req CreateUserRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	user, err := h.service.CreateUser(r.Context(), req, pr.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, response.Envelope{
		Success: true,
		Message: "User created successfully",
		ID:      &user.ID,
		Data:    user,
	})
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	user, err := h.service.UpdateUser(r.Context(), id, req, pr.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, "User updated successfully", user)
}

type toggleResponse struct {
	ID     int64 `json:"id"`
	Active bool  `json:"active"`
}

func (h *Handler) ToggleActive(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := userID(w, r)
	if !ok {
		return
	}
	active, err := h.service.ToggleActive(r.Context(), id, pr.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	message := "User deactivated"
	if active {
		message = "User activated"
	}
	response.OK(w, message, toggleResponse{ID: id, Active: active})
}
