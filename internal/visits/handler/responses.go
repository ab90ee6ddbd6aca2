package handler

import (
	"time"

	"gatehouse/internal/visits/models"
	"gatehouse/pkg/facilitytime"
)

// PersonResponse is the identity snapshot embedded in list items.
type PersonResponse struct {
	ID        string `json:"id"`
	Nombre    string `json:"nombre"`
	Apellido  string `json:"apellido"`
	Documento string `json:"documento"`
	Tipo      string `json:"tipo"`
}

// ListItemResponse is one row of GET /registros.
type ListItemResponse struct {
	ID               string         `json:"id"`
	Personal         PersonResponse `json:"personal"`
	Motivo           string         `json:"motivo"`
	Destino          string         `json:"destino"`
	HoraIngresoUtc   time.Time      `json:"horaIngresoUtc"`
	HoraIngresoLocal time.Time      `json:"horaIngresoLocal"`
	HoraSalidaUtc    *time.Time     `json:"horaSalidaUtc"`
	HoraSalidaLocal  *time.Time     `json:"horaSalidaLocal"`
	RegistradoPor    *string        `json:"registradoPor"`
	FotoUrl          string         `json:"fotoUrl"`
}

// VisitResponse is the flat shape returned for single visits.
type VisitResponse struct {
	ID               string     `json:"id"`
	PersonalID       string     `json:"personalId"`
	Nombre           string     `json:"nombre"`
	Apellido         string     `json:"apellido"`
	Documento        string     `json:"documento"`
	Motivo           string     `json:"motivo"`
	Destino          string     `json:"destino"`
	Tipo             string     `json:"tipo"`
	HoraIngresoUtc   time.Time  `json:"horaIngresoUtc"`
	HoraIngresoLocal time.Time  `json:"horaIngresoLocal"`
	HoraSalidaUtc    *time.Time `json:"horaSalidaUtc"`
	HoraSalidaLocal  *time.Time `json:"horaSalidaLocal"`
	RegistradoPor    *string    `json:"registradoPor"`
	FotoUrl          string     `json:"fotoUrl"`
}

// PageResponse wraps a page of list items.
type PageResponse struct {
	Items      []ListItemResponse `json:"items"`
	TotalCount int                `json:"totalCount"`
	Page       int                `json:"page"`
	PageSize   int                `json:"pageSize"`
}

func recordedBy(v *models.Visit) *string {
	if v.RecordedBy == nil {
		return nil
	}
	s := v.RecordedBy.String()
	return &s
}

func toVisitResponse(v *models.Visit, zone facilitytime.Zone) VisitResponse {
	return VisitResponse{
		ID:               v.ID.String(),
		PersonalID:       v.IdentityID.String(),
		Nombre:           v.GivenName,
		Apellido:         v.FamilyName,
		Documento:        v.DocumentID,
		Motivo:           v.Reason,
		Destino:          v.Destination,
		Tipo:             v.Category,
		HoraIngresoUtc:   v.CheckInAtUTC,
		HoraIngresoLocal: zone.ToLocal(v.CheckInAtUTC),
		HoraSalidaUtc:    v.CheckOutAtUTC,
		HoraSalidaLocal:  zone.ToLocalPtr(v.CheckOutAtUTC),
		RegistradoPor:    recordedBy(v),
		FotoUrl:          v.PhotoRef,
	}
}

func toListItem(v *models.Visit, zone facilitytime.Zone) ListItemResponse {
	return ListItemResponse{
		ID: v.ID.String(),
		Personal: PersonResponse{
			ID:        v.IdentityID.String(),
			Nombre:    v.GivenName,
			Apellido:  v.FamilyName,
			Documento: v.DocumentID,
			Tipo:      v.Category,
		},
		Motivo:           v.Reason,
		Destino:          v.Destination,
		HoraIngresoUtc:   v.CheckInAtUTC,
		HoraIngresoLocal: zone.ToLocal(v.CheckInAtUTC),
		HoraSalidaUtc:    v.CheckOutAtUTC,
		HoraSalidaLocal:  zone.ToLocalPtr(v.CheckOutAtUTC),
		RegistradoPor:    recordedBy(v),
		FotoUrl:          v.PhotoRef,
	}
}

func toPageResponse(p *models.Page, zone facilitytime.Zone) PageResponse {
	items := make([]ListItemResponse, 0, len(p.Items))
	for _, v := range p.Items {
		items = append(items, toListItem(v, zone))
	}
	return PageResponse{Items: items, TotalCount: p.Total, Page: p.Page, PageSize: p.PageSize}
}
