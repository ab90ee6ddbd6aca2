package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "gatehouse/internal/identity/models"
	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
)

var checkIn = time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)

func newIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	ident, err := identity.NewIdentity(id.NewIdentityID(), "123", identity.Profile{
		GivenName:  "Ana",
		FamilyName: "Pérez",
		PhotoRef:   "/uploads/personal/a.jpg",
	}, checkIn)
	require.NoError(t, err)
	return ident
}

func TestNewVisitCopiesSnapshot(t *testing.T) {
	ident := newIdentity(t)
	op := id.NewOperatorID()

	v, err := NewVisit(id.NewVisitID(), ident, " Bodega ", "", &op, checkIn)
	require.NoError(t, err)

	assert.Equal(t, ident.ID, v.IdentityID)
	assert.Equal(t, "Ana", v.GivenName)
	assert.Equal(t, "123", v.DocumentID)
	assert.Equal(t, "visitante", v.Category)
	assert.Equal(t, "/uploads/personal/a.jpg", v.PhotoRef)
	assert.Equal(t, "Bodega", v.Destination)
	assert.True(t, v.IsActive())
	assert.Equal(t, &op, v.RecordedBy)

	ident.GivenName = "Changed"
	assert.Equal(t, "Ana", v.GivenName, "snapshot must not follow identity edits")
}

func TestNewVisitRequiresIdentityAndDestination(t *testing.T) {
	_, err := NewVisit(id.NewVisitID(), nil, "Bodega", "", nil, checkIn)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewVisit(id.NewVisitID(), newIdentity(t), " ", "", nil, checkIn)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestApplyCheckOutOnlyOnce(t *testing.T) {
	v, err := NewVisit(id.NewVisitID(), newIdentity(t), "Bodega", "", nil, checkIn)
	require.NoError(t, err)

	first := checkIn.Add(time.Hour)
	require.True(t, v.ApplyCheckOut(first))
	assert.False(t, v.IsActive())

	assert.False(t, v.ApplyCheckOut(first.Add(time.Hour)))
	assert.True(t, first.Equal(*v.CheckOutAtUTC))
}

func TestApplyPatch(t *testing.T) {
	v, err := NewVisit(id.NewVisitID(), newIdentity(t), "Bodega", "Entrega", nil, checkIn)
	require.NoError(t, err)
	identityID := v.IdentityID

	changed := v.ApplyPatch(Patch{Destination: "Oficina", GivenName: "  "})
	assert.False(t, changed)
	assert.Equal(t, "Oficina", v.Destination)
	assert.Equal(t, "Ana", v.GivenName)

	changed = v.ApplyPatch(Patch{DocumentID: "456"})
	assert.True(t, changed)
	assert.Equal(t, "456", v.DocumentID)
	assert.Equal(t, identityID, v.IdentityID)
	assert.True(t, checkIn.Equal(v.CheckInAtUTC))
	assert.Nil(t, v.CheckOutAtUTC)
}

func TestFilterNormalize(t *testing.T) {
	tests := []struct {
		name             string
		in               Filter
		wantPage, wantPS int
	}{
		{"defaults", Filter{}, 1, 10},
		{"negative page", Filter{Page: -3, PageSize: 5}, 1, 5},
		{"page size too large", Filter{Page: 2, PageSize: 1000}, 2, 100},
		{"negative page size", Filter{PageSize: -1}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.in
			f.Normalize()
			assert.Equal(t, tt.wantPage, f.Page)
			assert.Equal(t, tt.wantPS, f.PageSize)
		})
	}

	f := Filter{Page: 3, PageSize: 10}
	assert.Equal(t, 20, f.Offset())
}

func TestFilterOffsetSaturates(t *testing.T) {
	assert.Equal(t, 0, Filter{Page: 1, PageSize: 100}.Offset())
	assert.Equal(t, math.MaxInt, Filter{Page: math.MaxInt, PageSize: 100}.Offset())
	assert.Equal(t, math.MaxInt, Filter{Page: math.MaxInt/100 + 2, PageSize: 100}.Offset())
	assert.Equal(t, (math.MaxInt/100)*100, Filter{Page: math.MaxInt/100 + 1, PageSize: 100}.Offset())
}

func TestFilterMatches(t *testing.T) {
	v := &Visit{GivenName: "Ana Maria", FamilyName: "Pérez", DocumentID: "123", CheckInAtUTC: checkIn}
	from := checkIn.Add(-time.Hour)
	until := checkIn

	assert.True(t, Filter{GivenName: "maria"}.Matches(v))
	assert.False(t, Filter{GivenName: "luis"}.Matches(v))
	assert.True(t, Filter{FamilyName: "PÉR"}.Matches(v))
	assert.False(t, Filter{DocumentID: "12"}.Matches(v))
	assert.True(t, Filter{From: &from}.Matches(v))
	assert.False(t, Filter{Until: &until}.Matches(v), "until is exclusive")
}

func TestCheckInRequestValidateListsEveryField(t *testing.T) {
	req := &CheckInRequest{GivenName: " ", Destination: "Bodega"}
	req.Normalize()

	err := req.Validate()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	fields := dErrors.Fields(err)
	assert.Contains(t, fields, "nombre")
	assert.Contains(t, fields, "apellido")
	assert.Contains(t, fields, "documento")
	assert.Contains(t, fields, "foto")
	assert.NotContains(t, fields, "destino")
}

func TestUpdateRequestValidate(t *testing.T) {
	empty := &UpdateRequest{}
	assert.True(t, dErrors.HasCode(empty.Validate(), dErrors.CodeValidation))

	ok := &UpdateRequest{Destination: "Oficina"}
	assert.NoError(t, ok.Validate())
}
