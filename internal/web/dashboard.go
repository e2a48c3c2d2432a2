// Package web serves the live event dashboard.
package web

import (
	_ "embed"
	"html/template"
	"net/http"
)

//go:embed dashboard.html
var dashboardHTML string

var dashboard = template.Must(template.New("dashboard").Parse(dashboardHTML))

// ServeDashboard serves the dashboard page. The page connects back to the
// event hub at eventsPath.
func ServeDashboard(eventsPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		_ = dashboard.Execute(w, struct{ EventsPath string }{eventsPath})
	}
}
