package service

import (
	"medquote/internal/geo"
	"medquote/internal/models"
)

func customerCanSee(caller models.Caller, r *models.MedicineRequest) bool {
	return caller.Role == models.UserTypeCustomer && r.CustomerID == caller.UserID
}

func requestPoint(r *models.MedicineRequest) geo.Point {
	return geo.Point{Lat: r.CustomerLatitude, Lon: r.CustomerLongitude}
}

func pharmacyPoint(p *models.Pharmacy) geo.Point {
	return geo.Point{Lat: p.Latitude, Lon: p.Longitude}
}

// inRadius reports the great-circle distance from p to the request and
// whether it is inside the request's radius.
func inRadius(p *models.Pharmacy, r *models.MedicineRequest) (float64, bool) {
	d := geo.DistanceKm(pharmacyPoint(p), requestPoint(r))
	return d, d <= r.Radius.Km()
}

// pharmacyCanSee holds for verified pharmacies within radius of a request
// that is still open for quotes.
func pharmacyCanSee(p *models.Pharmacy, r *models.MedicineRequest) bool {
	if !p.Verified || r.Status.Terminal() {
		return false
	}
	_, ok := inRadius(p, r)
	return ok
}
