package httpapi

import (
	"net/http"

	"pawpool/auth"
)

type userView struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     auth.Role `json:"role"`
}

func toUserView(u auth.User) userView {
	return userView{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}

	// Admin accounts are provisioned out of band.
	if req.Role == auth.RoleAdmin {
		s.writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "invalid role"})
		return
	}

	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toUserView(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Token string   `json:"token"`
		User  userView `json:"user"`
	}{Token: result.Token, User: toUserView(result.User)})
}
