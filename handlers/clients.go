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

func GetAllClients(w http.ResponseWriter, r *http.Request) {
	var clients []models.Client
	query := config.DB
	if r.URL.Query().Get("active") == "true" {
		query = query.Where("active = ?", true)
	}
	if err := query.Order("name asc").Find(&clients).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(clients)
}

func GetClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var client models.Client
	if err := config.DB.Where("id = ?", id).First(&client).Error; err != nil {
		http.Error(w, "client not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(client)
}

func CreateClient(w http.ResponseWriter, r *http.Request) {
	var client models.Client
	if err := json.NewDecoder(r.Body).Decode(&client); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if client.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if err := config.DB.Create(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			http.Error(w, "client name already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(client)
}

func UpdateClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var client models.Client
	if err := config.DB.Where("id = ?", id).First(&client).Error; err != nil {
		http.Error(w, "client not found", http.StatusNotFound)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&client); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := config.DB.Save(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			http.Error(w, "client name already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(client)
}

func DeleteClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result := config.DB.Where("id = ?", id).Delete(&models.Client{})
	if result.Error != nil {
		http.Error(w, "failed to delete client", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "client not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
