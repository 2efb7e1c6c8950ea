package web

import (
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/raine/skinanalyze/internal/skinapi"
)

type loginForm struct {
	Username string `schema:"username"`
	Password string `schema:"password"`
}

type registerForm struct {
	Username string `schema:"username"`
	Email    string `schema:"email"`
	Password string `schema:"password"`
}

func (s *Server) decodeForm(r *http.Request, dst any) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	return s.decoder.Decode(dst, r.PostForm)
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	data := s.page(r, "Log in", loginForm{})
	if r.URL.Query().Get("registered") == "1" {
		data.Notice = "Registration successful. Please log in."
	}
	s.render(w, r, http.StatusOK, "login", data)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := s.decodeForm(r, &form); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("invalid login form")
	}

	res, err := s.api.Login(r.Context(), form.Username, form.Password)
	if err != nil {
		hlog.FromRequest(r).Info().Err(err).Str("username", form.Username).Msg("login failed")
		data := s.page(r, "Log in", loginForm{Username: form.Username})
		data.Error = skinapi.UserMessage(err)
		s.render(w, r, http.StatusOK, "login", data)
		return
	}

	// The session must be stored before the redirect lands on a guarded view.
	if err := s.sessions.Set(clientID(r), res.AccessToken, res.Username); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to store session")
		data := s.page(r, "Log in", loginForm{Username: form.Username})
		data.Error = skinapi.MsgLoginFailed
		s.render(w, r, http.StatusOK, "login", data)
		return
	}
	s.history.Forget(clientID(r))

	hlog.FromRequest(r).Info().Str("username", res.Username).Msg("logged in")
	http.Redirect(w, r, "/analyze", http.StatusSeeOther)
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register", s.page(r, "Sign up", registerForm{}))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var form registerForm
	if err := s.decodeForm(r, &form); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("invalid register form")
	}

	if err := s.api.Register(r.Context(), form.Username, form.Email, form.Password); err != nil {
		data := s.page(r, "Sign up", registerForm{Username: form.Username, Email: form.Email})
		data.Error = skinapi.UserMessage(err)
		s.render(w, r, http.StatusOK, "register", data)
		return
	}

	http.Redirect(w, r, "/login?registered=1", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := clientID(r)
	if err := s.sessions.Clear(id); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to clear session")
	}
	s.history.Forget(id)

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
