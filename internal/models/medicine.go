package models

import (
	"strconv"
	"strings"
)

// Medicine is one line of a manually entered medicine list.
type Medicine struct {
	Name     string `json:"name"`
	Dosage   string `json:"dosage"`
	Quantity int    `json:"quantity"`
}

// String renders the stored form, e.g. "Paracetamol 500mg" or "Amoxicillin 250mg x2".
func (m Medicine) String() string {
	s := strings.TrimSpace(strings.TrimSpace(m.Name) + " " + strings.TrimSpace(m.Dosage))
	if m.Quantity > 1 {
		s += " x" + strconv.Itoa(m.Quantity)
	}
	return s
}
