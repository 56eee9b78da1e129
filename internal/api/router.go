package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kautilya-labs/khata/internal/auth"
)

// NewRouter assembles the full route table. authMW is the token-verifying
// middleware; tests substitute a stub that injects a fixed requester.
func NewRouter(h *Handler, authMW func(http.Handler) http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	apiV1 := r.PathPrefix("/api/v1").Subrouter()

	system := apiV1.PathPrefix("/transfers/system").Subrouter()
	system.Use(authMW, auth.RequireSystem)
	system.HandleFunc("/initial-funds", h.CreateSystemFunding).Methods("POST")

	protected := apiV1.NewRoute().Subrouter()
	protected.Use(authMW)
	protected.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	protected.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
	protected.HandleFunc("/accounts/{id}/balance", h.GetBalance).Methods("GET")
	protected.HandleFunc("/accounts/{id}/entries", h.GetAccountEntries).Methods("GET")
	protected.HandleFunc("/transfers", h.CreateTransfer).Methods("POST")
	protected.HandleFunc("/transfers/{id}", h.GetTransfer).Methods("GET")

	return r
}
