// Package nav builds the navigation menu shown on every view.
package nav

import (
	"github.com/raine/skinanalyze/internal/session"
)

const (
	HomePath      = "/"
	AnalyzePath   = "/analyze"
	DashboardPath = "/dashboard"
	LoginPath     = "/login"
	RegisterPath  = "/register"
	LogoutPath    = "/logout"
)

const BrandName = "SkinAnalyze"

type Link struct {
	Label  string
	Href   string
	Active bool
}

// Menu is the navigation shell for one view.
type Menu struct {
	Brand Link
	Links []Link
	// Greeting is "Hi, <username>!" for logged-in sessions.
	Greeting string
	// Logout is true when a logout action should be offered.
	Logout bool
}

// Build returns the menu for the view at path. The analyze view only shows a
// way back home.
func Build(path string, s session.Session) Menu {
	m := Menu{Brand: Link{Label: BrandName, Href: HomePath}}

	if path == AnalyzePath {
		m.Links = []Link{{Label: "Back", Href: HomePath}}
		return m
	}

	m.Links = append(m.Links,
		link("Home", HomePath, path),
		link("Analyze", AnalyzePath, path),
	)

	if s.LoggedIn() {
		m.Links = append(m.Links, link("Dashboard", DashboardPath, path))
		m.Greeting = "Hi, " + s.Username + "!"
		m.Logout = true
		return m
	}

	m.Links = append(m.Links,
		link("Login", LoginPath, path),
		link("Sign Up", RegisterPath, path),
	)
	return m
}

func link(label, href, current string) Link {
	return Link{Label: label, Href: href, Active: href == current}
}
