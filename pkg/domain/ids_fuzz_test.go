package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseVisitID checks that parsing never panics and that anything it
// accepts survives a round trip through String.
func FuzzParseVisitID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE visits;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		visitID, err := ParseVisitID(input)
		if err != nil {
			return
		}
		if visitID.IsNil() {
			t.Error("nil UUID was accepted")
		}
		roundTrip, err := ParseVisitID(visitID.String())
		if err != nil {
			t.Errorf("accepted id failed round-trip: %v", err)
		}
		if roundTrip != visitID {
			t.Error("round-trip changed id value")
		}
		if !utf8.ValidString(input) {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

func FuzzParseAllIDs(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		_, errOperator := ParseOperatorID(input)
		_, errIdentity := ParseIdentityID(input)
		_, errVisit := ParseVisitID(input)
		_, errAudit := ParseAuditEntryID(input)

		accepted := errOperator == nil
		if (errIdentity == nil) != accepted || (errVisit == nil) != accepted || (errAudit == nil) != accepted {
			t.Error("inconsistent parsing across id types")
		}
	})
}
