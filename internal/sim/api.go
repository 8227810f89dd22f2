package sim

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// API serves the simulated upstream over HTTP
type API struct {
	sim    *Simulator
	logger zerolog.Logger
}

// NewAPI creates a new simulator API
func NewAPI(sim *Simulator, logger zerolog.Logger) *API {
	return &API{
		sim:    sim,
		logger: logger.With().Str("component", "sim_api").Logger(),
	}
}

// SetupRoutes configures HTTP routes
func (api *API) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/health", api.healthHandler).Methods("GET")
	router.HandleFunc("/status", api.statusHandler).Methods("GET")
	router.HandleFunc("/stats", api.statsHandler).Methods("POST")
	router.HandleFunc("/calls", api.callsHandler).Methods("POST")
	router.HandleFunc("/catalog", api.catalogHandler).Methods("GET")

	// Simulation control
	router.HandleFunc("/step", api.stepHandler).Methods("POST")
	router.HandleFunc("/start", api.startHandler).Methods("POST")
	router.HandleFunc("/stop", api.stopHandler).Methods("POST")
}

// Router returns a router with all routes registered
func (api *API) Router() *mux.Router {
	router := mux.NewRouter()
	api.SetupRoutes(router)
	return router
}

// healthHandler returns service health
func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// statusHandler returns the simulation status
func (api *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, api.sim.Status())
}

// statsHandler returns aggregate rows for the posted filters
func (api *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	filters, ok := decode(w, r)
	if !ok {
		return
	}
	rows := api.sim.Stats(filters)
	api.logger.Debug().Int("rows", len(rows)).Msg("stats served")
	respond(w, http.StatusOK, rows)
}

// callsHandler returns raw call records for the posted filters
func (api *API) callsHandler(w http.ResponseWriter, r *http.Request) {
	filters, ok := decode(w, r)
	if !ok {
		return
	}
	respond(w, http.StatusOK, api.sim.CallRecords(filters))
}

// catalogHandler returns all agents and projects
func (api *API) catalogHandler(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, api.sim.Catalog())
}

// stepHandler simulates one step immediately
func (api *API) stepHandler(w http.ResponseWriter, r *http.Request) {
	api.sim.Step()
	respond(w, http.StatusOK, api.sim.Status())
}

// startHandler starts stepping on an interval
func (api *API) startHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tick string `json:"tick"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tick, err := time.ParseDuration(req.Tick)
	if err != nil || tick <= 0 {
		http.Error(w, "tick must be a positive duration", http.StatusBadRequest)
		return
	}

	api.sim.Start(tick)
	respond(w, http.StatusOK, api.sim.Status())
}

// stopHandler stops the simulation
func (api *API) stopHandler(w http.ResponseWriter, r *http.Request) {
	api.sim.Stop()
	respond(w, http.StatusOK, api.sim.Status())
}

func decode(w http.ResponseWriter, r *http.Request) (types.FilterSet, bool) {
	var filters types.FilterSet
	if err := json.NewDecoder(r.Body).Decode(&filters); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return filters, false
	}
	return filters, true
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
