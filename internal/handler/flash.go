package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const flashCookieName = "flash"

// Flash kinds map to CSS classes.
const (
	flashSuccess = "success"
	flashDanger  = "danger"
)

type Flash struct {
	Kind    string `json:"k"`
	Message string `json:"m"`
}

// addFlash queues a message for the next rendered page. Messages queued
// earlier in the same request are kept.
func addFlash(w http.ResponseWriter, r *http.Request, kind, message string) {
	flashes := readFlashes(r)
	flashes = append(flashes, Flash{Kind: kind, Message: message})

	data, err := json.Marshal(flashes)
	if err != nil {
		return
	}
	cookie := &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, cookie)
	// Later reads in this request see the new message too.
	r.AddCookie(cookie)
}

// popFlashes returns pending messages and clears the cookie.
func popFlashes(w http.ResponseWriter, r *http.Request) []Flash {
	flashes := readFlashes(r)
	if len(flashes) > 0 {
		http.SetCookie(w, &http.Cookie{
			Name:     flashCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return flashes
}

func readFlashes(r *http.Request) []Flash {
	var latest *http.Cookie
	for _, c := range r.Cookies() {
		if c.Name == flashCookieName {
			latest = c
		}
	}
	if latest == nil || latest.Value == "" {
		return nil
	}
	data, err := base64.RawURLEncoding.DecodeString(latest.Value)
	if err != nil {
		return nil
	}
	var flashes []Flash
	if err := json.Unmarshal(data, &flashes); err != nil {
		return nil
	}
	return flashes
}
