package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
	"p9e.in/rdiesel/config"
	"p9e.in/rdiesel/models"
)

func GetAllMeterDevices(w http.ResponseWriter, r *http.Request) {
	var meters []models.MeterDevice
	query := config.DB
	if r.URL.Query().Get("active") == "true" {
		query = query.Where("active = ?", true)
	}
	if err := query.Order("serial_number asc").Find(&meters).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meters)
}

func GetMeterDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var meter models.MeterDevice
	if err := config.DB.Where("id = ?", id).First(&meter).Error; err != nil {
		http.Error(w, "meter device not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meter)
}

func CreateMeterDevice(w http.ResponseWriter, r *http.Request) {
	var meter models.MeterDevice
	if err := json.NewDecoder(r.Body).Decode(&meter); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if meter.SerialNumber == "" || meter.MACAddress == "" {
		http.Error(w, "serialNumber and macAddress are required", http.StatusBadRequest)
		return
	}
	if err := config.DB.Create(&meter).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			http.Error(w, "serial number already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(meter)
}

func UpdateMeterDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var meter models.MeterDevice
	if err := config.DB.Where("id = ?", id).First(&meter).Error; err != nil {
		http.Error(w, "meter device not found", http.StatusNotFound)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&meter); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := config.DB.Save(&meter).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			http.Error(w, "serial number already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meter)
}

func DeleteMeterDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result := config.DB.Where("id = ?", id).Delete(&models.MeterDevice{})
	if result.Error != nil {
		http.Error(w, "failed to delete meter device", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "meter device not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
