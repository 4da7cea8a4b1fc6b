package core

// workbook.go reads the multi-sheet address workbook.
//
// Every sheet has the same layout: row 1 is a title row, row 2 holds the
// column headers, data starts on row 3. Columns are mapped by position, not by
// header name. Sheets are read lazily one row at a time so the full workbook
// is never materialized as strings before filtering.

import (
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/xuri/excelize/v2"
)

// Column positions within each sheet.
const (
	colViability = iota
	colState
	colMunicipality
	colLocality
	colNeighborhood
	colStreetName
	colStreetCode
	colBuildingNumber
	colComplement1
	colComplement2
	colComplement3
	colRegion
	colPostalCode
	colTotalHPs

	// ColumnCount is the number of positional columns each sheet must carry.
	ColumnCount
)

// ColumnNames are the expected headers, in positional order.
var ColumnNames = [ColumnCount]string{
	"VIABILIDADE_ATUAL", "UF", "MUNICIPIO", "LOCALIDADE", "BAIRRO", "LOGRADOURO",
	"COD_LOGRADOURO", "N_FACHADA", "COMP_1", "COMP_2", "COMP_3", "REGIAO", "CEP", "TOTAL_HPS",
}

// HeaderToken is the viability column header. A data row carrying it is a
// repeated header and is dropped.
const HeaderToken = "VIABILIDADE_ATUAL"

const (
	titleRow  = 1
	headerRow = 2
)

var rawValues = excelize.Options{RawCellValue: true}

// SheetCount is the number of records a sheet contributed.
type SheetCount struct {
	Sheet   string `json:"sheet"`
	Records int    `json:"records"`
}

// Workbook is an opened source workbook. Its records can be iterated once.
type Workbook struct {
	file     *excelize.File
	sheets   []string
	consumed atomic.Bool

	mu     sync.Mutex
	counts []SheetCount
}

// OpenWorkbook reads an xlsx workbook from r.
func OpenWorkbook(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &SourceParseError{Reason: "cannot open workbook", Err: err}
	}
	return newWorkbook(f)
}

// OpenWorkbookFile opens the xlsx workbook at path.
func OpenWorkbookFile(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &SourceParseError{Reason: "cannot open workbook", Err: err}
	}
	return newWorkbook(f)
}

func newWorkbook(f *excelize.File) (*Workbook, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, &SourceParseError{Err: ErrNoSheets}
	}
	return &Workbook{file: f, sheets: sheets}, nil
}

// Sheets returns the sheet names in workbook order.
func (w *Workbook) Sheets() []string {
	return append([]string(nil), w.sheets...)
}

// SheetCounts returns per-sheet record counts for the sheets iterated so far.
func (w *Workbook) SheetCounts() []SheetCount {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]SheetCount(nil), w.counts...)
}

// Close releases the workbook's temporary files.
func (w *Workbook) Close() error {
	return w.file.Close()
}

// Records yields qualifying records from every sheet in order. Iteration stops
// at the first error, which is yielded with a zero record. A second call
// yields ErrWorkbookConsumed.
func (w *Workbook) Records() iter.Seq2[AddressRecord, error] {
	return func(yield func(AddressRecord, error) bool) {
		if !w.consumed.CompareAndSwap(false, true) {
			yield(AddressRecord{}, ErrWorkbookConsumed)
			return
		}
		for _, sheet := range w.sheets {
			if !w.sheetRecords(sheet, yield) {
				return
			}
		}
	}
}

// sheetRecords returns false when iteration must stop.
func (w *Workbook) sheetRecords(sheet string, yield func(AddressRecord, error) bool) bool {
	kept := 0
	defer func() {
		w.mu.Lock()
		w.counts = append(w.counts, SheetCount{Sheet: sheet, Records: kept})
		w.mu.Unlock()
	}()

	rows, err := w.file.Rows(sheet)
	if err != nil {
		yield(AddressRecord{}, &SourceParseError{Sheet: sheet, Reason: "cannot read sheet", Err: err})
		return false
	}
	defer rows.Close()

	// A short header only fails the sheet once a non-empty data row shows up,
	// so sheets holding nothing but a title contribute zero rows.
	var headerErr error

	for rowNum := 1; rows.Next(); rowNum++ {
		cols, err := rows.Columns(rawValues)
		if err != nil {
			yield(AddressRecord{}, &SourceParseError{Sheet: sheet, Row: rowNum, Reason: "cannot read row", Err: err})
			return false
		}

		switch rowNum {
		case titleRow:
			continue
		case headerRow:
			if len(cols) < ColumnCount {
				headerErr = &SourceParseError{
					Sheet:  sheet,
					Row:    rowNum,
					Reason: fmt.Sprintf("header has %d columns, need %d", len(cols), ColumnCount),
					Err:    ErrUnmappableColumns,
				}
			}
			continue
		}

		cells := rowCells(cols)
		if isEmptyRow(cells[:]) {
			continue
		}
		if headerErr != nil {
			yield(AddressRecord{}, headerErr)
			return false
		}

		rec, ok := newRecord(cells)
		if !ok {
			continue
		}
		kept++
		if !yield(rec, nil) {
			return false
		}
	}

	if err := rows.Error(); err != nil {
		yield(AddressRecord{}, &SourceParseError{Sheet: sheet, Reason: "cannot read rows", Err: err})
		return false
	}
	return true
}

// rowCells cleans the first ColumnCount columns. Short rows are padded with
// blanks and extra columns are ignored.
func rowCells(cols []string) [ColumnCount]string {
	var cells [ColumnCount]string
	for i := 0; i < ColumnCount && i < len(cols); i++ {
		cells[i] = CleanCell(cols[i])
	}
	return cells
}

// newRecord maps cells onto a record by position. It reports false for rows
// with no viability and for repeated header rows.
func newRecord(cells [ColumnCount]string) (AddressRecord, bool) {
	viability := cells[colViability]
	if viability == "" || viability == HeaderToken {
		return AddressRecord{}, false
	}

	return AddressRecord{
		Viability:      optional(viability),
		State:          optional(cells[colState]),
		Municipality:   optional(cells[colMunicipality]),
		Locality:       optional(cells[colLocality]),
		Neighborhood:   optional(cells[colNeighborhood]),
		StreetName:     optional(cells[colStreetName]),
		StreetCode:     optional(cells[colStreetCode]),
		BuildingNumber: optional(NormalizeBuildingNumber(cells[colBuildingNumber])),
		Complement1:    optional(cells[colComplement1]),
		Complement2:    optional(cells[colComplement2]),
		Complement3:    optional(cells[colComplement3]),
		Region:         optional(cells[colRegion]),
		PostalCode:     optional(NormalizePostalCode(cells[colPostalCode])),
		TotalHPs:       ParseHomesPassed(cells[colTotalHPs]),
	}, true
}
