// Package guard protects views that require a logged-in session.
package guard

import (
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/raine/skinanalyze/internal/session"
)

// LoginPath is where unauthenticated users are sent.
const LoginPath = "/login"

type State int

const (
	Allowed State = iota
	Redirected
)

func (s State) String() string {
	if s == Allowed {
		return "allowed"
	}
	return "redirected"
}

// Decision is the outcome of evaluating a guarded navigation.
type Decision struct {
	State  State
	Target string
}

// Evaluate allows the navigation when the session holds a token, otherwise it
// redirects to the login view.
func Evaluate(s session.Session) Decision {
	if s.LoggedIn() {
		return Decision{State: Allowed}
	}
	return Decision{State: Redirected, Target: LoginPath}
}

// SessionFunc resolves the session for a request.
type SessionFunc func(r *http.Request) session.Session

// Require wraps a handler so it only runs for logged-in sessions. Others get a
// 303 to the login view. Guarded responses are never cached, so the back
// button cannot bring a protected page back after logout.
func Require(sessionFor SessionFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")

			d := Evaluate(sessionFor(r))
			if d.State == Redirected {
				hlog.FromRequest(r).Debug().Str("path", r.URL.Path).Msg("guarded route redirected to login")
				http.Redirect(w, r, d.Target, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
