// Package domain holds typed identifiers shared across modules.
//
// Each identifier is a distinct named uuid.UUID so an operator id can never
// be passed where a visit id is expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "gatehouse/pkg/domain-errors"
)

type (
	OperatorID   uuid.UUID
	IdentityID   uuid.UUID
	VisitID      uuid.UUID
	AuditEntryID uuid.UUID
)

func NewOperatorID() OperatorID     { return OperatorID(uuid.New()) }
func NewIdentityID() IdentityID     { return IdentityID(uuid.New()) }
func NewVisitID() VisitID           { return VisitID(uuid.New()) }
func NewAuditEntryID() AuditEntryID { return AuditEntryID(uuid.New()) }

func ParseOperatorID(s string) (OperatorID, error) {
	u, err := parseUUID(s, "operator id")
	return OperatorID(u), err
}

func ParseIdentityID(s string) (IdentityID, error) {
	u, err := parseUUID(s, "identity id")
	return IdentityID(u), err
}

func ParseVisitID(s string) (VisitID, error) {
	u, err := parseUUID(s, "visit id")
	return VisitID(u), err
}

func ParseAuditEntryID(s string) (AuditEntryID, error) {
	u, err := parseUUID(s, "audit entry id")
	return AuditEntryID(u), err
}

// parseUUID rejects empty, malformed and nil UUIDs.
func parseUUID(s, label string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

func (i OperatorID) String() string   { return uuid.UUID(i).String() }
func (i IdentityID) String() string   { return uuid.UUID(i).String() }
func (i VisitID) String() string      { return uuid.UUID(i).String() }
func (i AuditEntryID) String() string { return uuid.UUID(i).String() }

func (i OperatorID) IsNil() bool   { return uuid.UUID(i) == uuid.Nil }
func (i IdentityID) IsNil() bool   { return uuid.UUID(i) == uuid.Nil }
func (i VisitID) IsNil() bool      { return uuid.UUID(i) == uuid.Nil }
func (i AuditEntryID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

// Named types do not inherit uuid.UUID's text methods, so JSON would render
// raw byte arrays without these.

func (i OperatorID) MarshalText() ([]byte, error)   { return uuid.UUID(i).MarshalText() }
func (i IdentityID) MarshalText() ([]byte, error)   { return uuid.UUID(i).MarshalText() }
func (i VisitID) MarshalText() ([]byte, error)      { return uuid.UUID(i).MarshalText() }
func (i AuditEntryID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }

func (i *OperatorID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *IdentityID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *VisitID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *AuditEntryID) UnmarshalText(b []byte) error { return (*uuid.UUID)(i).UnmarshalText(b) }
