package frontend

import (
	"net/http"

	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
	"github.com/scholarr/scholarr/scholarr/go/users"
)

// settingsResponse is the shared shape of GET and PUT /api/v1/settings. The
// policy block carries the server floors so the UI can refuse the same
// values the server refuses.
type settingsResponse struct {
	Settings    users.Settings `json:"settings"`
	Policy      interface{}    `json:"policy"`
	SafetyState interface{}    `json:"safety_state"`
}

// getSettingsHandler handles GET /api/v1/settings.
func (a *App) getSettingsHandler(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	state, err := a.safety.State(r.Context(), u.ID)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	a.sendData(w, r, settingsResponse{
		Settings:    u.Settings,
		Policy:      a.cfg.Policy(),
		SafetyState: state,
	})
}

// putSettingsHandler handles PUT /api/v1/settings. Values below the server
// floors are refused outright rather than silently raised, so the stored
// settings always mean what the user asked for.
func (a *App) putSettingsHandler(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	s := u.Settings
	if err := decodeBody(r, &s); err != nil {
		a.sendErr(w, r, err)
		return
	}
	if err := a.validateSettings(s); err != nil {
		a.sendErr(w, r, err)
		return
	}
	if err := a.users.UpdateSettings(r.Context(), u.ID, s); err != nil {
		a.sendErr(w, r, err)
		return
	}
	state, err := a.safety.State(r.Context(), u.ID)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	a.sendData(w, r, settingsResponse{
		Settings:    s,
		Policy:      a.cfg.Policy(),
		SafetyState: state,
	})
}

func (a *App) validateSettings(s users.Settings) error {
	if s.RequestDelaySeconds < a.cfg.MinRequestDelaySeconds {
		return scholarrerr.New(scholarrerr.Validation, "request_delay_seconds must be at least %d.", a.cfg.MinRequestDelaySeconds).
			WithDetails(map[string]interface{}{"field": "request_delay_seconds", "floor": a.cfg.MinRequestDelaySeconds})
	}
	if s.RunIntervalMinutes < a.cfg.MinRunIntervalMinutes {
		return scholarrerr.New(scholarrerr.Validation, "run_interval_minutes must be at least %d.", a.cfg.MinRunIntervalMinutes).
			WithDetails(map[string]interface{}{"field": "run_interval_minutes", "floor": a.cfg.MinRunIntervalMinutes})
	}
	if s.NavVisiblePages < 1 {
		return scholarrerr.New(scholarrerr.Validation, "nav_visible_pages must be at least 1.").
			WithDetails(map[string]interface{}{"field": "nav_visible_pages"})
	}
	return nil
}
