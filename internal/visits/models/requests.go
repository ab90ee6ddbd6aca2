package models

import (
	"strings"

	dErrors "gatehouse/pkg/domain-errors"
)

// CheckInRequest is the body of a check-in.
type CheckInRequest struct {
	GivenName   string `json:"nombre"`
	FamilyName  string `json:"apellido"`
	DocumentID  string `json:"documento"`
	Reason      string `json:"motivo"`
	Destination string `json:"destino"`
	Category    string `json:"tipo"`
	Photo       string `json:"foto"`
}

func (r *CheckInRequest) Normalize() {
	if r == nil {
		return
	}
	r.GivenName = strings.TrimSpace(r.GivenName)
	r.FamilyName = strings.TrimSpace(r.FamilyName)
	r.DocumentID = strings.TrimSpace(r.DocumentID)
	r.Reason = strings.TrimSpace(r.Reason)
	r.Destination = strings.TrimSpace(r.Destination)
	r.Category = strings.TrimSpace(r.Category)
	r.Photo = strings.TrimSpace(r.Photo)
}

// UpdateRequest is the body of a visit correction. Absent fields are left alone.
type UpdateRequest struct {
	GivenName   string `json:"nombre"`
	FamilyName  string `json:"apellido"`
	DocumentID  string `json:"documento"`
	Reason      string `json:"motivo"`
	Destination string `json:"destino"`
	Category    string `json:"tipo"`
}

func (r *UpdateRequest) Patch() Patch {
	return Patch{
		GivenName:   r.GivenName,
		FamilyName:  r.FamilyName,
		DocumentID:  r.DocumentID,
		Destination: r.Destination,
		Reason:      r.Reason,
		Category:    r.Category,
	}
}

const maxTextField = 200

// Validate reports every missing or oversized field at once.
func (r *CheckInRequest) Validate() error {
	fields := dErrors.FieldErrors{}
	required := []struct {
		name  string
		value string
	}{
		{"nombre", r.GivenName},
		{"apellido", r.FamilyName},
		{"documento", r.DocumentID},
		{"destino", r.Destination},
	}
	for _, f := range required {
		if f.value == "" {
			fields.Add(f.name, f.name+" is required")
		} else if len(f.value) > maxTextField {
			fields.Add(f.name, f.name+" is too long")
		}
	}
	if len(r.Reason) > maxTextField {
		fields.Add("motivo", "motivo is too long")
	}
	if len(r.Category) > maxTextField {
		fields.Add("tipo", "tipo is too long")
	}
	if r.Photo == "" {
		fields.Add("foto", "foto is required")
	}
	return fields.Err()
}

// Validate rejects oversized fields and a patch with nothing to change.
func (r *UpdateRequest) Validate() error {
	fields := dErrors.FieldErrors{}
	for name, value := range map[string]string{
		"nombre":    r.GivenName,
		"apellido":  r.FamilyName,
		"documento": r.DocumentID,
		"destino":   r.Destination,
		"motivo":    r.Reason,
		"tipo":      r.Category,
	} {
		if len(strings.TrimSpace(value)) > maxTextField {
			fields.Add(name, name+" is too long")
		}
	}
	if err := fields.Err(); err != nil {
		return err
	}
	if r.Patch().IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "at least one field must be provided")
	}
	return nil
}
