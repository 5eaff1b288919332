package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/service"
)

const maxCommandBody = 4 << 10

// API serves fleet queries and manual commands as JSON.
type API struct {
	svc *service.Service
	log *slog.Logger
}

func NewAPI(svc *service.Service, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{svc: svc, log: logger.With("component", "http")}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/fleet", a.fleet)
	mux.HandleFunc("GET /api/fleet/summary", a.summary)
	mux.HandleFunc("GET /api/plants/{id}", a.plant)
	mux.HandleFunc("GET /api/plants/{id}/commands", a.commands)
	mux.HandleFunc("POST /api/plants/{id}/control", a.controlPlant)
	mux.HandleFunc("GET /api/devices/{id}/latest", a.latest)
	mux.HandleFunc("POST /api/devices/{id}/control", a.controlDevice)
}

func (a *API) fleet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Fleet())
}

func (a *API) summary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Summary())
}

func (a *API) plant(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.Plant(r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) latest(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.Latest(r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) commands(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	id := r.PathValue("id")
	cmds, err := a.svc.Commands(r.Context(), id, limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plant_id": id, "commands": cmds})
}

type controlRequest struct {
	Action string `json:"action"`
}

func (a *API) controlPlant(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, func(ctx context.Context, action string) (service.CommandView, error) {
		return a.svc.Command(ctx, r.PathValue("id"), action)
	})
}

func (a *API) controlDevice(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, func(ctx context.Context, action string) (service.CommandView, error) {
		return a.svc.CommandDevice(ctx, r.PathValue("id"), action)
	})
}

func (a *API) control(w http.ResponseWriter, r *http.Request, submit func(context.Context, string) (service.CommandView, error)) {
	var req controlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "No action provided"})
		return
	}

	view, err := submit(r.Context(), req.Action)
	if err != nil {
		a.log.Warn("manual command failed", "plant", view.PlantID, "action", req.Action, "err", err)
		status := statusFor(err)
		writeJSON(w, status, errorBody{Error: err.Error(), Kind: core.ErrorKind(err), Command: commandOrNil(view)})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type errorBody struct {
	Error   string               `json:"error"`
	Kind    string               `json:"kind,omitempty"`
	Command *service.CommandView `json:"command,omitempty"`
}

func commandOrNil(v service.CommandView) *service.CommandView {
	if v.TicketID == "" {
		return nil
	}
	return &v
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if errors.Is(err, core.ErrNoData) {
		body.Error = "No data found"
	}
	writeJSON(w, status, body)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnknownPlant), errors.Is(err, core.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoDevice), errors.Is(err, core.ErrCommandInFlight), errors.Is(err, core.ErrCooldown):
		return http.StatusConflict
	case errors.Is(err, core.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrRejected), errors.Is(err, core.ErrUnreachable), errors.Is(err, core.ErrMalformed):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
