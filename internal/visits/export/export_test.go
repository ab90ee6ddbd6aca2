package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gatehouse/internal/visits/models"
	id "gatehouse/pkg/domain"
	"gatehouse/pkg/facilitytime"
)

func sampleRows() []models.ExportRow {
	in := time.Date(2024, 1, 2, 3, 30, 0, 0, time.UTC) // 2024-01-01 22:30:00 local
	out := in.Add(90 * time.Minute)
	return []models.ExportRow{
		{
			Visit: &models.Visit{
				ID: id.NewVisitID(), GivenName: "Ana", FamilyName: "Gomez", DocumentID: "123",
				Reason: "Entrega; urgente", Destination: "Bodega", Category: "visitante",
				PhotoRef: "/uploads/personal/123.png", CheckInAtUTC: in, CheckOutAtUTC: &out,
			},
			OperatorEmail: "op@local",
		},
		{
			Visit: &models.Visit{
				ID: id.NewVisitID(), GivenName: "Luis", FamilyName: "Diaz", DocumentID: "456",
				Destination: "Oficina", Category: "contratista", CheckInAtUTC: in.Add(time.Hour),
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	zone := facilitytime.Fixed("COT", -5*time.Hour)
	rows := sampleRows()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows, zone))

	assert.True(t, strings.HasPrefix(buf.String(),
		"Id;Nombre;Documento;Motivo;Destino;Tipo;FechaIngreso;HoraIngreso;FechaSalida;HoraSalida;RegistradoPor;FotoUrl\n"))

	r := csv.NewReader(&buf)
	r.Comma = ';'
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[1]
	assert.Equal(t, rows[0].Visit.ID.String(), first[0])
	assert.Equal(t, "Entrega; urgente", first[3], "delimiter inside a field is quoted")
	assert.Equal(t, []string{"2024-01-01", "22:30:00", "2024-01-02", "00:00:00"}, first[6:10])
	assert.Equal(t, "op@local", first[10])

	second := records[2]
	assert.Equal(t, []string{"", ""}, second[8:10], "open visit has blank exit")
	assert.Empty(t, second[10], "unknown operator is blank")
}

func TestWriteXLSX(t *testing.T) {
	zone := facilitytime.Fixed("COT", -5*time.Hour)
	rows := sampleRows()

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, rows, zone))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	got, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, sheetHeader, got[0])
	assert.Equal(t, "Gomez", got[1][2])
	assert.Equal(t, "2024-01-01", got[1][7])
	assert.Equal(t, "op@local", got[1][11])
	assert.Equal(t, "/uploads/personal/123.png", got[1][12])
}

func TestFileName(t *testing.T) {
	at := time.Date(2024, 7, 9, 8, 5, 3, 0, time.UTC)
	assert.Equal(t, "registros_20240709080503.csv", FileName(at, "csv"))
}
