package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/settlecore/internal/api"
	"github.com/punchamoorthee/settlecore/internal/config"
	"github.com/punchamoorthee/settlecore/internal/service"
	"github.com/punchamoorthee/settlecore/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to parse database config: %v", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = cfg.DBMaxConns
	}
	dbPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbPool.Close()

	// Initialize Layers
	settleStore := store.NewStore(dbPool)
	settleService := service.NewSettlementService(dbPool, settleStore)
	handler := api.NewHandler(settleStore, settleService)

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts", handler.CreateAccountHandler).Methods("POST")
	apiV1.HandleFunc("/accounts", handler.GetAccountsHandler).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}", handler.GetAccountHandler).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}/settlements", handler.ReceiveSettlementHandler).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}/withdrawals", handler.WithdrawHandler).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}/uncredited", handler.PeekUncreditedHandler).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}/uncredited", handler.ClearUncreditedHandler).Methods("DELETE")
	apiV1.HandleFunc("/settlement-engines", handler.SetSettlementEnginesHandler).Methods("PUT")

	log.Printf("Server starting on :%s (%s)", cfg.Port, cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
