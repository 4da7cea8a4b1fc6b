// Package testutil builds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// Header is the standard 14-column header row.
var Header = []any{
	"VIABILIDADE_ATUAL", "UF", "MUNICIPIO", "LOCALIDADE", "BAIRRO", "LOGRADOURO",
	"COD_LOGRADOURO", "N_FACHADA", "COMP_1", "COMP_2", "COMP_3", "REGIAO", "CEP", "TOTAL_HPS",
}

// Sheet is one worksheet. Rows are written starting at row 1, so a typical
// sheet is a title row, Header, then data rows.
type Sheet struct {
	Name string
	Rows [][]any
}

// StandardSheet returns a sheet with a title row and Header followed by data.
func StandardSheet(name string, data ...[]any) Sheet {
	rows := [][]any{{"Base de viabilidade " + name}, Header}
	return Sheet{Name: name, Rows: append(rows, data...)}
}

// Row builds a data row for the common fields, leaving complements blank.
func Row(viability, municipality, street, streetCode, number, postal string, hps any) []any {
	return []any{viability, "CE", municipality, municipality, "CENTRO", street, streetCode, number, "", "", "", "NORDESTE", postal, hps}
}

// BuildWorkbook renders sheets to xlsx bytes.
func BuildWorkbook(t testing.TB, sheets ...Sheet) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.Name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			t.Fatalf("new sheet %s: %v", sh.Name, err)
		}

		for r, row := range sh.Rows {
			if len(row) == 0 {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			values := row
			if err := f.SetSheetRow(sh.Name, cell, &values); err != nil {
				t.Fatalf("write %s row %d: %v", sh.Name, r+1, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

// WriteWorkbook writes sheets to an xlsx file in a temp dir and returns its path.
func WriteWorkbook(t testing.TB, sheets ...Sheet) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "addresses.xlsx")
	if err := os.WriteFile(path, BuildWorkbook(t, sheets...), 0o600); err != nil {
		t.Fatalf("write workbook file: %v", err)
	}
	return path
}

// Fortaleza is the reference dataset: one sheet, two qualifying rows plus a
// repeated header and a row without viability.
func Fortaleza(t testing.TB) []byte {
	t.Helper()
	return BuildWorkbook(t, StandardSheet("CE",
		Row("VIAVEL", "FORTALEZA", "RUA A", "13784", "144", "60876-672", 2),
		Header,
		Row("", "FORTALEZA", "RUA B", "13785", "10", "60876672", 1),
		Row("INVIAVEL", "FORTALEZA", "RUA C", "13786", "200", "60000000", "3.7"),
	))
}
