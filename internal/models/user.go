package models

import "time"

type UserType string

const (
	UserTypeCustomer UserType = "customer"
	UserTypePharmacy UserType = "pharmacy"
)

func (t UserType) Valid() bool {
	return t == UserTypeCustomer || t == UserTypePharmacy
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone"`
	UserType     UserType  `json:"user_type"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Customer struct {
	User
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Pharmacy coordinates are mandatory: a pharmacy that cannot be located
// never sees any request.
type Pharmacy struct {
	User
	PharmacyName   string  `json:"pharmacy_name"`
	LicenseNumber  string  `json:"license_number"`
	Address        string  `json:"address"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Verified       bool    `json:"verified"`
	OperatingHours string  `json:"operating_hours"`
}

// PharmacyProfile is what a customer sees about the pharmacy behind a quote.
type PharmacyProfile struct {
	ID             string  `json:"id"`
	PharmacyName   string  `json:"pharmacy_name"`
	Address        string  `json:"address"`
	Phone          string  `json:"phone"`
	OperatingHours string  `json:"operating_hours"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
}

func (p *Pharmacy) Profile() *PharmacyProfile {
	return &PharmacyProfile{
		ID:             p.ID,
		PharmacyName:   p.PharmacyName,
		Address:        p.Address,
		Phone:          p.Phone,
		OperatingHours: p.OperatingHours,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
	}
}

// CustomerContact is what a pharmacy sees about the customer behind a request.
type CustomerContact struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

// Caller is the authenticated identity on whose behalf an operation runs.
type Caller struct {
	UserID string   `json:"user_id"`
	Role   UserType `json:"role"`
}

func (c Caller) IsZero() bool {
	return c.UserID == ""
}

// ValidCoordinates reports whether lat/lon are inside WGS84 bounds.
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
