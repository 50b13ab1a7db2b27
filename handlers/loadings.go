package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
	"p9e.in/rdiesel/config"
	"p9e.in/rdiesel/models"
	"p9e.in/rdiesel/utils"
)

// loadingView adds the fields the dashboard derives from a loading but
// never stores, currently only the geofence verdict.
type loadingView struct {
	models.Loading
	OutOfFence bool `json:"outOfFence"`
}

// outOfFence reports whether a capture happened outside its pump's
// geofence. Captures without coordinates and pumps without a geofence are
// never flagged; the polygon is optional and GPS may be unavailable in
// the field.
func outOfFence(l *models.Loading) bool {
	if l.Pump == nil || l.Pump.Geofence == "" {
		return false
	}
	if l.Latitude == 0 && l.Longitude == 0 {
		return false
	}
	fence, err := utils.ParseGeofence(l.Pump.Geofence)
	if err != nil {
		return false
	}
	return !fence.Contains(utils.Coordinate{Lat: l.Latitude, Lng: l.Longitude})
}

// loadingQuery applies the dashboard filters shared by list and export.
func loadingQuery(r *http.Request) *gorm.DB {
	db := config.DB.Preload("Pump").Preload("MeterDevice").Preload("Vehicle").Preload("Vehicle.Client")
	params := r.URL.Query()
	if v := params.Get("pumpId"); v != "" {
		db = db.Where("pump_id = ?", v)
	}
	if v := params.Get("vehicleId"); v != "" {
		db = db.Where("vehicle_id = ?", v)
	}
	if v := params.Get("outcome"); v != "" {
		db = db.Where("outcome = ?", v)
	}
	if v := params.Get("from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			db = db.Where("started_at >= ?", t)
		}
	}
	if v := params.Get("to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			db = db.Where("started_at < ?", t.AddDate(0, 0, 1))
		}
	}
	return db
}

func GetAllLoadings(w http.ResponseWriter, r *http.Request) {
	var loadings []models.Loading
	if err := loadingQuery(r).Order("started_at desc").Find(&loadings).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]loadingView, len(loadings))
	for i := range loadings {
		views[i] = loadingView{Loading: loadings[i], OutOfFence: outOfFence(&loadings[i])}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

func GetLoading(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var loading models.Loading
	err := config.DB.Preload("Pump").Preload("MeterDevice").Preload("Vehicle").
		Preload("Vehicle.Client").Preload("Evidence").Preload("Signature").
		Where("id = ?", id).First(&loading).Error
	if err != nil {
		http.Error(w, "loading not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loadingView{Loading: loading, OutOfFence: outOfFence(&loading)})
}

// ExportLoadings streams the filtered loading list as an XLSX download.
func ExportLoadings(w http.ResponseWriter, r *http.Request) {
	var loadings []models.Loading
	if err := loadingQuery(r).Order("started_at desc").Find(&loadings).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Loadings"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"ID", "Date", "Pump", "Vehicle", "Client", "Initial Reading",
		"Final Reading", "Liters", "Meter Value", "Outcome", "Justification", "Device",
		"Out Of Fence"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, l := range loadings {
		pumpNumber := ""
		if l.Pump != nil {
			pumpNumber = l.Pump.Number
		}
		vehicleID := ""
		clientName := ""
		if l.Vehicle != nil {
			vehicleID = l.Vehicle.Identifier
			if l.Vehicle.Client != nil {
				clientName = l.Vehicle.Client.Name
			}
		}
		justification := ""
		if l.Justification != nil {
			justification = *l.Justification
		}
		fenceVerdict := ""
		if outOfFence(&l) {
			fenceVerdict = "YES"
		}
		values := []interface{}{
			l.ID.String(),
			l.StartedAt.Time().Format("2006-01-02 15:04"),
			pumpNumber,
			vehicleID,
			clientName,
			l.InitialReading,
			l.FinalReading,
			l.VolumeDelivered,
			l.MeterValue,
			string(l.Outcome),
			justification,
			l.DeviceID,
			fenceVerdict,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	buffer, err := f.WriteToBuffer()
	if err != nil {
		http.Error(w, "failed to generate Excel file", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("loadings_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buffer.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buffer.Bytes())
}
