package intake

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	data := "applicant_id,monthly_income,name,notes\n1,5000,Ada,\n2,3200.50,Bob,1.2.3\n"
	got, err := ParseApplicants("batch.CSV", []byte(data))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, map[string]any{"applicant_id": 1.0, "monthly_income": 5000.0, "name": "Ada", "notes": nil}, got[0])
	assert.Equal(t, 3200.5, got[1]["monthly_income"])
	assert.Equal(t, "1.2.3", got[1]["notes"])
}

func TestParseJSON(t *testing.T) {
	list, err := ParseApplicants("a.json", []byte(`[{"age":30},{"age":41}]`))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	one, err := ParseApplicants("a.json", []byte(`{"age":30}`))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"age": 30.0}}, one)

	_, err = ParseApplicants("a.json", []byte(`"nope"`))
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = ParseApplicants("a.json", []byte(`[]`))
	assert.ErrorIs(t, err, ErrNoApplicants)
}

func TestParseText(t *testing.T) {
	got, err := ParseApplicants("a.txt", []byte("Monthly Income: 4200\nCredit Score: 710\nEmployer: ACME Corp\n"))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"monthly_income": 4200.0, "credit_score": 710.0, "employer": "ACME Corp"}}, got)

	raw, err := ParseApplicants("a.txt", []byte(strings.Repeat("z", 6000)))
	require.NoError(t, err)
	assert.Len(t, raw[0]["raw_content"], maxRawContent)
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := ParseApplicants("a.pdf", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
