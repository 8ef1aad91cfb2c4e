package orgstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSpreadsheetID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			"full edit url",
			"https://docs.google.com/spreadsheets/d/1AbC_dEf-123/edit#gid=0",
			"1AbC_dEf-123",
		},
		{
			"bare url without suffix",
			"https://docs.google.com/spreadsheets/d/xyz789",
			"xyz789",
		},
		{"empty url falls back", "", "default-id"},
		{"no /d/ segment falls back", "https://example.com/sheet", "default-id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSpreadsheetID(tt.url, "default-id"))
		})
	}
}
