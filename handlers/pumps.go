package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
	"p9e.in/rdiesel/config"
	"p9e.in/rdiesel/models"
	"p9e.in/rdiesel/utils"
)

func GetAllPumps(w http.ResponseWriter, r *http.Request) {
	var pumps []models.Pump
	query := config.DB.Preload("MeterDevice")
	if r.URL.Query().Get("active") == "true" {
		query = query.Where("active = ?", true)
	}
	if err := query.Order("number asc").Find(&pumps).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pumps)
}

func GetPump(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var pump models.Pump
	if err := config.DB.Preload("MeterDevice").Where("id = ?", id).First(&pump).Error; err != nil {
		http.Error(w, "pump not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pump)
}

func CreatePump(w http.ResponseWriter, r *http.Request) {
	var pump models.Pump
	if err := json.NewDecoder(r.Body).Decode(&pump); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if pump.Number == "" {
		http.Error(w, "number is required", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateGeofence(pump.Geofence); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := config.DB.Create(&pump).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			http.Error(w, "pump number already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pump)
}

func UpdatePump(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var pump models.Pump
	if err := config.DB.Where("id = ?", id).First(&pump).Error; err != nil {
		http.Error(w, "pump not found", http.StatusNotFound)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&pump); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := utils.ValidateGeofence(pump.Geofence); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := config.DB.Save(&pump).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			http.Error(w, "pump number already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pump)
}

func DeletePump(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result := config.DB.Where("id = ?", id).Delete(&models.Pump{})
	if result.Error != nil {
		http.Error(w, "failed to delete pump", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "pump not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
