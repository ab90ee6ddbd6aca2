package models

import (
	"strings"
	"time"

	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
)

// DefaultCategory is assigned when a person is first seen without a category.
const DefaultCategory = "visitante"

// Identity is one real-world person, deduplicated by DocumentID.
type Identity struct {
	ID         id.IdentityID
	DocumentID string
	GivenName  string
	FamilyName string
	Category   string
	PhotoRef   string
	CreatedAt  time.Time
}

// Profile carries the person fields supplied by a check-in. Blank fields mean
// "keep what we have".
type Profile struct {
	GivenName  string
	FamilyName string
	Category   string
	PhotoRef   string
}

// NewIdentity creates a person record for a document seen for the first time.
func NewIdentity(identityID id.IdentityID, documentID string, p Profile, now time.Time) (*Identity, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identity document is required")
	}
	if identityID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identity id is required")
	}
	category := strings.TrimSpace(p.Category)
	if category == "" {
		category = DefaultCategory
	}
	return &Identity{
		ID:         identityID,
		DocumentID: documentID,
		GivenName:  strings.TrimSpace(p.GivenName),
		FamilyName: strings.TrimSpace(p.FamilyName),
		Category:   category,
		PhotoRef:   strings.TrimSpace(p.PhotoRef),
		CreatedAt:  now.UTC(),
	}, nil
}

// ApplyProfile overwrites only the fields that p supplies and reports whether
// anything changed. ID, DocumentID and CreatedAt are never touched.
func (i *Identity) ApplyProfile(p Profile) bool {
	changed := false
	set := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if v != "" && v != *dst {
			*dst = v
			changed = true
		}
	}
	set(&i.GivenName, p.GivenName)
	set(&i.FamilyName, p.FamilyName)
	set(&i.Category, p.Category)
	set(&i.PhotoRef, p.PhotoRef)
	return changed
}
