package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
	"p9e.in/rdiesel/config"
	"p9e.in/rdiesel/models"
)

func GetAllVehicles(w http.ResponseWriter, r *http.Request) {
	var vehicles []models.Vehicle
	query := config.DB.Preload("Client")
	if r.URL.Query().Get("active") == "true" {
		query = query.Where("active = ?", true)
	}
	if clientID := r.URL.Query().Get("clientId"); clientID != "" {
		query = query.Where("client_id = ?", clientID)
	}
	if err := query.Order("identifier asc").Find(&vehicles).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vehicles)
}

func GetVehicle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var vehicle models.Vehicle
	if err := config.DB.Preload("Client").Where("id = ?", id).First(&vehicle).Error; err != nil {
		http.Error(w, "vehicle not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vehicle)
}

func CreateVehicle(w http.ResponseWriter, r *http.Request) {
	var vehicle models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&vehicle); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if vehicle.Identifier == "" {
		http.Error(w, "identifier is required", http.StatusBadRequest)
		return
	}
	if vehicle.ClientID == uuid.Nil {
		http.Error(w, "clientId is required", http.StatusBadRequest)
		return
	}
	var client models.Client
	if err := config.DB.Where("id = ?", vehicle.ClientID).First(&client).Error; err != nil {
		http.Error(w, "client not found", http.StatusBadRequest)
		return
	}
	// QR payload printed on the vehicle sticker
	if vehicle.QRCode == "" {
		vehicle.QRCode = "VEH-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if err := config.DB.Create(&vehicle).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			http.Error(w, "qr code already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(vehicle)
}

func UpdateVehicle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var vehicle models.Vehicle
	if err := config.DB.Where("id = ?", id).First(&vehicle).Error; err != nil {
		http.Error(w, "vehicle not found", http.StatusNotFound)
		return
	}
	qrCode := vehicle.QRCode
	if err := json.NewDecoder(r.Body).Decode(&vehicle); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	// QR stickers are physical; the code never changes after creation
	vehicle.QRCode = qrCode
	if err := config.DB.Save(&vehicle).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			http.Error(w, "qr code already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vehicle)
}

func DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result := config.DB.Where("id = ?", id).Delete(&models.Vehicle{})
	if result.Error != nil {
		http.Error(w, "failed to delete vehicle", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "vehicle not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
