package adminapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/glob"
	"go.uber.org/multierr"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/health"
)

var (
	ErrUnknownAction = errors.New("unknown lifecycle action")
	ErrBadPattern    = errors.New("invalid match pattern")
	ErrIDMismatch    = errors.New("configuration id does not match the path")
	ErrBodyTooLarge  = errors.New("request body too large")
)

// ModuleView is the JSON form of a live module.
type ModuleView struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	State     string         `json:"state"`
	AutoStart bool           `json:"autoStart"`
	Status    string         `json:"status,omitempty"`
	Error     string         `json:"error,omitempty"`
	UniqueID  string         `json:"uniqueId,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

func viewOf(m modhub.Module) ModuleView {
	v := ModuleView{
		ID:     m.ID(),
		Name:   m.Name(),
		State:  m.CurrentState().String(),
		Status: m.StatusMessage(),
	}
	if cfg := m.Configuration(); cfg != nil {
		v.Type = cfg.ModuleType
		v.AutoStart = cfg.AutoStart
		v.Options = cfg.Options
	}
	if err := m.CurrentError(); err != nil {
		v.Error = err.Error()
	}
	if e, ok := m.(modhub.Entity); ok {
		v.UniqueID = e.UniqueIdentifier()
	}
	return v
}

// TypeView describes an installed module type.
type TypeView struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Vendor      string `json:"vendor,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps registry errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, modhub.ErrUnknownModule), errors.Is(err, modhub.ErrConfigNotFound):
		status = http.StatusNotFound
	case errors.Is(err, modhub.ErrShutdownRejected):
		status = http.StatusServiceUnavailable
	case errors.Is(err, modhub.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, modhub.ErrUnknownModuleType),
		errors.Is(err, modhub.ErrMissingConfiguration),
		errors.Is(err, ErrUnknownAction),
		errors.Is(err, ErrBadPattern),
		errors.Is(err, ErrIDMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, ErrBodyTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, modhub.ErrTransitionFailure), errors.Is(err, modhub.ErrInstantiationFailure):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeConfig(r *http.Request) (*modhub.ModuleConfig, error) {
	var cfg modhub.ModuleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: %w", modhub.ErrMissingConfiguration, err)
	}
	return &cfg, nil
}

func (s *Server) listModules(w http.ResponseWriter, r *http.Request) {
	var match glob.Glob
	if pattern := r.URL.Query().Get("match"); pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			writeError(w, fmt.Errorf("%w %q: %w", ErrBadPattern, pattern, err))
			return
		}
		match = g
	}

	views := []ModuleView{}
	for _, m := range s.reg.LoadedModules() {
		if match != nil && !match.Match(m.ID()) && !match.Match(m.Name()) {
			continue
		}
		views = append(views, viewOf(m))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) loadModule(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeConfig(r)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := s.reg.LoadModuleAsync(cfg, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(m))
}

func (s *Server) availableModules(w http.ResponseWriter, _ *http.Request) {
	configs, err := s.reg.AvailableModules()
	if err != nil {
		writeError(w, err)
		return
	}
	if configs == nil {
		configs = []*modhub.ModuleConfig{}
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) moduleTypes(w http.ResponseWriter, _ *http.Request) {
	views := []TypeView{}
	for _, p := range s.reg.InstalledModuleTypes() {
		views = append(views, TypeView{
			Type:        p.Type,
			Name:        p.Name,
			Description: p.Description,
			Version:     p.Version,
			Vendor:      p.Vendor,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getModule(w http.ResponseWriter, r *http.Request) {
	m, err := s.reg.ModuleByID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(m))
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	m, ok := s.reg.Entities().Find(uid)
	if !ok {
		writeError(w, fmt.Errorf("%w: entity %s", modhub.ErrUnknownModule, uid))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(m))
}

// lifecycle submits an action. With ?wait=<duration> it waits for the
// target state and reports the outcome, otherwise it answers 202 at once.
func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	action := chi.URLParam(r, "action")
	q := r.URL.Query()
	force, _ := strconv.ParseBool(q.Get("force"))

	var wait time.Duration
	if raw := q.Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid wait %q: %v", raw, err)})
			return
		}
		wait = d
	}

	var (
		m   modhub.Module
		err error
	)
	switch {
	case action == "init" && wait > 0:
		m, err = s.reg.InitModule(id, force, wait)
	case action == "init":
		m, err = s.reg.InitModuleAsync(id, force, nil)
	case action == "start" && wait > 0:
		m, err = s.reg.StartModule(id, wait)
	case action == "start":
		m, err = s.reg.StartModuleAsync(id, nil)
	case action == "stop" && wait > 0:
		m, err = s.reg.StopModule(id, wait)
	case action == "stop":
		m, err = s.reg.StopModuleAsync(id, nil)
	case action == "restart" && wait > 0:
		m, err = s.reg.RestartModule(id, wait)
	case action == "restart":
		m, err = s.reg.RestartModuleAsync(id, nil)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if wait > 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, viewOf(m))
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cfg, err := decodeConfig(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch cfg.ID {
	case "":
		cfg.ID = id
	case id:
	default:
		writeError(w, fmt.Errorf("%w: %s != %s", ErrIDMismatch, cfg.ID, id))
		return
	}
	if err := s.reg.UpdateModuleConfigAsync(cfg); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) removeModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	destroy, _ := strconv.ParseBool(r.URL.Query().Get("destroy"))

	var err error
	if destroy {
		err = s.reg.DestroyModule(id)
	} else {
		err = s.reg.UnloadModule(id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// save persists configurations and states; ?config=false or ?state=false
// skip one of them.
func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	saveConfig, saveState := true, true
	if v, err := strconv.ParseBool(q.Get("config")); err == nil {
		saveConfig = v
	}
	if v, err := strconv.ParseBool(q.Get("state")); err == nil {
		saveState = v
	}

	var err error
	if saveConfig {
		err = multierr.Append(err, s.reg.SaveModulesConfiguration())
	}
	if saveState {
		err = multierr.Append(err, s.reg.SaveAllModuleStates())
	}
	if err != nil {
		s.logger.Error("Save requested through the admin API failed", "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	s.probe(w, s.health.CheckAll(r.Context()).LivenessStatus)
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	s.probe(w, s.health.CheckAll(r.Context()).ReadinessStatus)
}

func (s *Server) probe(w http.ResponseWriter, status health.HealthStatus) {
	code := http.StatusOK
	if status != health.StatusHealthy && status != health.StatusWarning {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]health.HealthStatus{"status": status})
}

func (s *Server) healthReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.CheckAll(r.Context()))
}
