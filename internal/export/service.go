package export

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/cells"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
)

// ObjectArchive keeps a copy of each export and hands out a download URL.
type ObjectArchive interface {
	Store(ctx context.Context, reviewID string, result *Result) (key, url string, err error)
}

// Service provides review export functionality
type Service struct {
	archive ObjectArchive
	log     zerolog.Logger
}

// NewService creates a new export service. archive may be nil.
func NewService(archive ObjectArchive, log zerolog.Logger) *Service {
	return &Service{archive: archive, log: log}
}

// Export encodes the request and, when an archive is configured, uploads
// the file. An archive failure does not fail the export.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	result, err := Encode(req)
	if err != nil {
		return nil, err
	}
	if s.archive == nil {
		return result, nil
	}

	key, url, err := s.archive.Store(ctx, req.ReviewID, result)
	if err != nil {
		s.log.Warn().Err(err).Str("review_id", req.ReviewID).Str("filename", result.Filename).Msg("export archive failed")
		return result, nil
	}
	result.ObjectKey = key
	result.URL = url
	return result, nil
}

type exportColumn struct {
	column store.Column
	index  int
}

// Encode writes the Results and Export Info sheets.
func Encode(req Request) (*Result, error) {
	answerType := req.Config.AnswerType
	if answerType == "" {
		answerType = AnswerShort
	}
	if !answerType.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAnswerType, answerType)
	}

	var columns []exportColumn
	if req.Table != nil {
		for _, id := range req.Config.ColumnIDs {
			if column, ok := req.Table.Column(id); ok {
				columns = append(columns, exportColumn{column: column, index: req.Table.ColumnIndex(id)})
			}
		}
	}
	if len(columns) == 0 {
		return nil, ErrNoColumns
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ResultsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeResults(f, req, answerType, columns); err != nil {
		return nil, err
	}
	if err := writeInfo(f, req, answerType, columns); err != nil {
		return nil, err
	}
	if index, err := f.GetSheetIndex(ResultsSheet); err == nil {
		f.SetActiveSheet(index)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return &Result{
		Data:     buf.Bytes(),
		Filename: Filename(req.ReviewName, answerType, req.Now),
		MimeType: SpreadsheetMIME,
	}, nil
}

func writeResults(f *excelize.File, req Request, answerType AnswerType, columns []exportColumn) error {
	header := []any{"Document"}
	for _, c := range columns {
		name := SanitizeValue(c.column.Name)
		switch answerType {
		case AnswerShort:
			header = append(header, name)
		case AnswerLong:
			header = append(header, name+" (Detailed)")
		case AnswerBoth:
			header = append(header, name+" (Short)", name+" (Detailed)")
		}
		if req.Config.IncludeSources {
			header = append(header, name+" (Source)")
		}
	}
	if err := setRow(f, ResultsSheet, 1, header); err != nil {
		return err
	}

	for i, row := range req.Rows {
		values := []any{SanitizeValue(row.Document.Filename)}
		for _, c := range columns {
			cell := row.Cells[c.index]
			short, long := cellText(cell)
			switch answerType {
			case AnswerShort:
				values = append(values, SanitizeValue(short))
			case AnswerLong:
				values = append(values, SanitizeValue(long))
			case AnswerBoth:
				values = append(values, SanitizeValue(short), SanitizeValue(long))
			}
			if req.Config.IncludeSources {
				values = append(values, SanitizeValue(cell.Source()))
			}
		}
		if err := setRow(f, ResultsSheet, i+2, values); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetRowStyle(ResultsSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}
	last, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return fmt.Errorf("column name: %w", err)
	}
	if err := f.SetColWidth(ResultsSheet, "A", last, 32); err != nil {
		return fmt.Errorf("column width: %w", err)
	}
	return f.SetPanes(ResultsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// cellText renders unresolved cells so a reader can tell them from empty answers.
func cellText(cell *cells.Cell) (short, long string) {
	switch cell.State {
	case cells.StateCompleted:
		return cell.Short(), cell.Long()
	case cells.StateError:
		return "Error", cell.ErrorMessage
	default:
		return "", ""
	}
}

func writeInfo(f *excelize.File, req Request, answerType AnswerType, columns []exportColumn) error {
	if _, err := f.NewSheet(InfoSheet); err != nil {
		return fmt.Errorf("create info sheet: %w", err)
	}

	rows := [][]any{
		{"Review", SanitizeValue(req.ReviewName)},
		{"Review ID", req.ReviewID},
		{"Exported At", req.Now.UTC().Format("2006-01-02 15:04:05 UTC")},
		{"Answer Type", string(answerType)},
		{"Include Sources", strconv.FormatBool(req.Config.IncludeSources)},
		{"Documents", len(req.Rows)},
		{"Columns", len(columns)},
		{"Filter", SanitizeValue(req.Filter)},
		{},
		{"Column", "Prompt", "Data Type"},
	}
	for _, c := range columns {
		rows = append(rows, []any{
			SanitizeValue(c.column.Name),
			SanitizeValue(c.column.Prompt),
			c.column.DataType,
		})
	}
	for i, values := range rows {
		if len(values) == 0 {
			continue
		}
		if err := setRow(f, InfoSheet, i+1, values); err != nil {
			return err
		}
	}
	return f.SetColWidth(InfoSheet, "A", "C", 40)
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
