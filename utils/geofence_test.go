package utils

import "testing"

const squareFence = `{"coordinates":[{"lat":0,"lng":0},{"lat":0,"lng":10},{"lat":10,"lng":10},{"lat":10,"lng":0}]}`

func TestValidateGeofence(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"empty is optional", "", false},
		{"valid square", squareFence, false},
		{"not json", "{coordinates", true},
		{"too few points", `{"coordinates":[{"lat":0,"lng":0},{"lat":1,"lng":1}]}`, true},
		{"latitude out of range", `{"coordinates":[{"lat":95,"lng":0},{"lat":0,"lng":1},{"lat":1,"lng":0}]}`, true},
		{"longitude out of range", `{"coordinates":[{"lat":0,"lng":-190},{"lat":0,"lng":1},{"lat":1,"lng":0}]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeofence(tt.json)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGeofence(%q) error = %v, wantErr %v", tt.json, err, tt.wantErr)
			}
		})
	}
}

func TestGeofenceContains(t *testing.T) {
	fence, err := ParseGeofence(squareFence)
	if err != nil {
		t.Fatalf("ParseGeofence() failed: %v", err)
	}

	tests := []struct {
		name  string
		point Coordinate
		want  bool
	}{
		{"center", Coordinate{Lat: 5, Lng: 5}, true},
		{"near edge inside", Coordinate{Lat: 9.5, Lng: 9.5}, true},
		{"outside north", Coordinate{Lat: 11, Lng: 5}, false},
		{"outside west", Coordinate{Lat: 5, Lng: -1}, false},
		{"far away", Coordinate{Lat: -40, Lng: 100}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fence.Contains(tt.point); got != tt.want {
				t.Errorf("Contains(%+v) = %v, want %v", tt.point, got, tt.want)
			}
		})
	}
}
