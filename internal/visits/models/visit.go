package models

import (
	"strings"
	"time"

	identity "gatehouse/internal/identity/models"
	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
)

// Visit is one check-in/check-out episode. The person fields are a snapshot
// taken at check-in and do not follow later identity edits.
type Visit struct {
	ID         id.VisitID
	IdentityID id.IdentityID

	GivenName  string
	FamilyName string
	DocumentID string
	Category   string
	PhotoRef   string

	Destination string
	Reason      string

	CheckInAtUTC  time.Time
	CheckOutAtUTC *time.Time

	RecordedBy *id.OperatorID
}

// NewVisit opens a visit for ident, copying its current profile.
func NewVisit(visitID id.VisitID, ident *identity.Identity, destination, reason string, recordedBy *id.OperatorID, now time.Time) (*Visit, error) {
	if ident == nil || ident.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "visit requires an identity")
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "visit destination is required")
	}
	return &Visit{
		ID:            visitID,
		IdentityID:    ident.ID,
		GivenName:     ident.GivenName,
		FamilyName:    ident.FamilyName,
		DocumentID:    ident.DocumentID,
		Category:      ident.Category,
		PhotoRef:      ident.PhotoRef,
		Destination:   destination,
		Reason:        strings.TrimSpace(reason),
		CheckInAtUTC:  now.UTC(),
		CheckOutAtUTC: nil,
		RecordedBy:    recordedBy,
	}, nil
}

// IsActive reports whether the person has not left yet.
func (v *Visit) IsActive() bool {
	return v.CheckOutAtUTC == nil
}

// CanCheckOut is false once a checkout has been recorded.
func (v *Visit) CanCheckOut() bool {
	return v.IsActive()
}

// ApplyCheckOut records the exit time. It is a no-op returning false when the
// visit is already closed, so the first recorded time is kept.
func (v *Visit) ApplyCheckOut(now time.Time) bool {
	if !v.CanCheckOut() {
		return false
	}
	t := now.UTC()
	v.CheckOutAtUTC = &t
	return true
}

// Patch is a sparse correction of a visit. Blank fields are ignored.
type Patch struct {
	GivenName   string
	FamilyName  string
	DocumentID  string
	Destination string
	Reason      string
	Category    string
}

// IsEmpty reports whether the patch would change nothing.
func (p Patch) IsEmpty() bool {
	return strings.TrimSpace(p.GivenName) == "" &&
		strings.TrimSpace(p.FamilyName) == "" &&
		strings.TrimSpace(p.DocumentID) == "" &&
		strings.TrimSpace(p.Destination) == "" &&
		strings.TrimSpace(p.Reason) == "" &&
		strings.TrimSpace(p.Category) == ""
}

// ApplyPatch applies p and reports whether the document changed. Check-in
// and check-out times and the identity link are not reachable from a patch.
func (v *Visit) ApplyPatch(p Patch) (documentChanged bool) {
	set := func(dst *string, val string) {
		if val = strings.TrimSpace(val); val != "" {
			*dst = val
		}
	}
	before := v.DocumentID
	set(&v.GivenName, p.GivenName)
	set(&v.FamilyName, p.FamilyName)
	set(&v.DocumentID, p.DocumentID)
	set(&v.Destination, p.Destination)
	set(&v.Reason, p.Reason)
	set(&v.Category, p.Category)
	return v.DocumentID != before
}

// ExportRow is a visit joined with the email of the operator who recorded it.
// OperatorEmail is empty when the operator is unknown or was removed.
type ExportRow struct {
	Visit         *Visit
	OperatorEmail string
}
