package service

import (
	"context"
	"errors"
	"strings"

	"gatehouse/internal/visits/models"
	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	audit "gatehouse/pkg/platform/audit"
	"gatehouse/pkg/platform/sentinel"
)

// ExportFormat names a spreadsheet export.
type ExportFormat string

const (
	ExportCSV   ExportFormat = "csv"
	ExportExcel ExportFormat = "excel"
)

func (s *Service) Get(ctx context.Context, visitID id.VisitID) (*models.Visit, error) {
	v, err := s.visits.FindByID(ctx, visitID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, errVisitNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load visit")
	}
	return v, nil
}

// LatestByDocument returns the most recent visit of a person, open or not.
func (s *Service) LatestByDocument(ctx context.Context, documentID string) (*models.Visit, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "documento is required")
	}
	v, err := s.visits.FindLatestByDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no visits for document")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load visit")
	}
	return v, nil
}

// ActiveByDocument returns the open visit of a person.
func (s *Service) ActiveByDocument(ctx context.Context, documentID string) (*models.Visit, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "documento is required")
	}
	v, err := s.index.GetActiveVisit(ctx, documentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, errNoOpenVisit
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load visit")
	}
	return v, nil
}

// List returns one page of visits, newest check-in first.
func (s *Service) List(ctx context.Context, f models.Filter) (*models.Page, error) {
	f.Normalize()
	items, total, err := s.visits.List(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list visits")
	}
	return &models.Page{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// ExportRows returns every visit matching f with the email of the operator
// who recorded it. Paging fields of f are ignored.
func (s *Service) ExportRows(ctx context.Context, f models.Filter, format ExportFormat) ([]models.ExportRow, error) {
	ctx, span := s.tracer.Start(ctx, "visits.ExportRows")
	defer span.End()

	f.Normalize()
	visits, err := s.visits.ListAll(ctx, f)
	if err != nil {
		return nil, s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to export visits"))
	}

	emails := map[id.OperatorID]string{}
	if s.operators != nil {
		seen := map[id.OperatorID]struct{}{}
		var ids []id.OperatorID
		for _, v := range visits {
			if v.RecordedBy == nil {
				continue
			}
			if _, ok := seen[*v.RecordedBy]; !ok {
				seen[*v.RecordedBy] = struct{}{}
				ids = append(ids, *v.RecordedBy)
			}
		}
		if len(ids) > 0 {
			emails, err = s.operators.EmailsByID(ctx, ids)
			if err != nil {
				return nil, s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve operators"))
			}
		}
	}

	rows := make([]models.ExportRow, 0, len(visits))
	for _, v := range visits {
		row := models.ExportRow{Visit: v}
		if v.RecordedBy != nil {
			row.OperatorEmail = emails[*v.RecordedBy]
		}
		rows = append(rows, row)
	}

	s.metrics.IncrementExports(string(format))
	action := audit.ActionVisitsExportCSV
	if format == ExportExcel {
		action = audit.ActionVisitsExportExcel
	}
	s.emit(ctx, action, "", map[string]any{"rows": len(rows)})
	return rows, nil
}
