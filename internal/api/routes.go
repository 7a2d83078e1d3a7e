package api

import (
	"github.com/gorilla/mux"
)

func SetupRoutes(router *mux.Router, handler *Handler) {
	router.HandleFunc("/api/v1/health", handler.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/recipes", handler.ListRecipes).Methods("GET")
	router.HandleFunc("/api/v1/recipes/{recipeName}", handler.GetRecipeInfo).Methods("GET")
	router.HandleFunc("/api/v1/recipes/{recipeName}/runs", handler.SubmitRun).Methods("POST")
	router.HandleFunc("/api/v1/runs", handler.ListRuns).Methods("GET")
	router.HandleFunc("/api/v1/runs/active", handler.GetActiveRuns).Methods("GET")
	router.HandleFunc("/api/v1/runs/{id}", handler.GetRun).Methods("GET")
	router.HandleFunc("/api/v1/runs/{id}", handler.CancelRun).Methods("DELETE")
}
