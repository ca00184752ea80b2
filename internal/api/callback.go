package api

import (
	"html/template"
	"net/http"

	"example.com/fitsync/internal/connection"
	"example.com/fitsync/internal/domain"
)

const (
	successRedirectSeconds = 2
	failureRedirectSeconds = 3
)

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="{{.Delay}};url={{.Target}}">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
<p><a href="{{.Target}}">Continue</a></p>
</body>
</html>
`))

type callbackView struct {
	Title   string
	Message string
	Target  string
	Delay   int
}

// stravaCallback completes the browser redirect leg of the OAuth flow. The
// user is identified by the signed state parameter since the browser carries
// no bearer token here.
func (h *Handler) stravaCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Warn().Str("error", providerErr).Msg("strava authorization denied")
		h.renderCallback(w, false, "Authorization was denied: "+providerErr)
		return
	}
	code := query.Get("code")
	if code == "" {
		h.renderCallback(w, false, "No authorization code was returned.")
		return
	}

	userID, err := h.states.Verify(query.Get("state"))
	if err != nil {
		h.logger.Warn().Err(err).Msg("strava callback state rejected")
		h.renderCallback(w, false, "The authorization request could not be verified.")
		return
	}

	session, err := h.manager.Open(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("open session for callback")
		h.renderCallback(w, false, "Your session could not be loaded.")
		return
	}

	notice, err := h.manager.Connect(r.Context(), session, domain.ProviderStrava, connection.ConnectRequest{Code: code})
	if err != nil {
		h.renderCallback(w, false, notice.Description)
		return
	}
	h.renderCallback(w, true, notice.Description)
}

func (h *Handler) renderCallback(w http.ResponseWriter, ok bool, message string) {
	view := callbackView{
		Title:   "Strava connection failed",
		Message: message,
		Target:  h.landingURL,
		Delay:   failureRedirectSeconds,
	}
	status := http.StatusBadRequest
	if ok {
		view.Title = "Strava connected"
		view.Target = h.dashboardURL
		view.Delay = successRedirectSeconds
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := callbackPage.Execute(w, view); err != nil {
		h.logger.Error().Err(err).Msg("render callback page")
	}
}
