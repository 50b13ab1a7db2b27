package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"p9e.in/rdiesel/handlers"
)

func RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// Locally stored evidence/signature blobs (dev mode)
	r.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir("./uploads"))),
	)

	api := r.PathPrefix("/api").Subrouter()

	// Mobile sync protocol
	api.HandleFunc("/sync/cargas", handlers.SyncLoading).Methods("POST")
	api.HandleFunc("/sync/cargas/batch", handlers.SyncLoadingBatch).Methods("POST")
	api.HandleFunc("/sync/catalogo", handlers.SyncCatalog).Methods("GET")

	// Pumps
	api.HandleFunc("/pipas", handlers.GetAllPumps).Methods("GET")
	api.HandleFunc("/pipas", handlers.CreatePump).Methods("POST")
	api.HandleFunc("/pipas/{id}", handlers.GetPump).Methods("GET")
	api.HandleFunc("/pipas/{id}", handlers.UpdatePump).Methods("PUT")
	api.HandleFunc("/pipas/{id}", handlers.DeletePump).Methods("DELETE")

	// Meter devices
	api.HandleFunc("/lcqis", handlers.GetAllMeterDevices).Methods("GET")
	api.HandleFunc("/lcqis", handlers.CreateMeterDevice).Methods("POST")
	api.HandleFunc("/lcqis/{id}", handlers.GetMeterDevice).Methods("GET")
	api.HandleFunc("/lcqis/{id}", handlers.UpdateMeterDevice).Methods("PUT")
	api.HandleFunc("/lcqis/{id}", handlers.DeleteMeterDevice).Methods("DELETE")

	// Clients
	api.HandleFunc("/clientes", handlers.GetAllClients).Methods("GET")
	api.HandleFunc("/clientes", handlers.CreateClient).Methods("POST")
	api.HandleFunc("/clientes/{id}", handlers.GetClient).Methods("GET")
	api.HandleFunc("/clientes/{id}", handlers.UpdateClient).Methods("PUT")
	api.HandleFunc("/clientes/{id}", handlers.DeleteClient).Methods("DELETE")

	// Client vehicles
	api.HandleFunc("/vehiculos", handlers.GetAllVehicles).Methods("GET")
	api.HandleFunc("/vehiculos", handlers.CreateVehicle).Methods("POST")
	api.HandleFunc("/vehiculos/{id}", handlers.GetVehicle).Methods("GET")
	api.HandleFunc("/vehiculos/{id}", handlers.UpdateVehicle).Methods("PUT")
	api.HandleFunc("/vehiculos/{id}", handlers.DeleteVehicle).Methods("DELETE")

	// Dashboard reads
	api.HandleFunc("/cargas", handlers.GetAllLoadings).Methods("GET")
	api.HandleFunc("/cargas/export", handlers.ExportLoadings).Methods("GET")
	api.HandleFunc("/cargas/{id}", handlers.GetLoading).Methods("GET")

	return r
}
