package builtintools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"goa.design/tools-provider/internal/userctx"
)

const cellTruncateLimit = 500

// workbook is the on-disk shape of a spreadsheet: a name to a grid of
// string cells. No third-party spreadsheet format is available anywhere in
// the reference corpus (see DESIGN.md), so the workbook is persisted as
// JSON rather than a binary spreadsheet format.
type workbook struct {
	Sheets map[string][][]string `json:"sheets"`
}

// SpreadsheetTools implements the Spreadsheet category of §4.11.
type SpreadsheetTools struct {
	root string
}

func (s *SpreadsheetTools) path(userID, name string) (string, error) {
	dir, err := userWorkspaceDir(s.root, userID)
	if err != nil {
		return "", err
	}
	return safeJoin(dir, name+".sheet.json")
}

func (s *SpreadsheetTools) load(userID, name string) (*workbook, error) {
	path, err := s.path(userID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &workbook{Sheets: map[string][][]string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var wb workbook
	if err := json.Unmarshal(data, &wb); err != nil {
		return nil, err
	}
	if wb.Sheets == nil {
		wb.Sheets = map[string][][]string{}
	}
	return &wb, nil
}

func (s *SpreadsheetTools) save(userID, name string, wb *workbook) error {
	path, err := s.path(userID, name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(wb)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Read supports pagination (offset/limit), optional column projection, and
// truncates every cell to 500 chars (§4.11).
func (s *SpreadsheetTools) Read(_ context.Context, args map[string]any, user userctx.Context) (Result, error) {
	name, _ := args["name"].(string)
	sheetName, _ := args["sheet"].(string)
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	offset := intArg(args, "offset", 0)
	limit := intArg(args, "limit", 100)

	wb, err := s.load(user.UserID, name)
	if err != nil {
		return Result{}, err
	}
	rows, ok := wb.Sheets[sheetName]
	if !ok {
		return Result{Success: false, Error: "sheet not found: " + sheetName}, nil
	}

	var columns []int
	if raw, ok := args["columns"].([]any); ok {
		for _, c := range raw {
			if idx, ok := c.(float64); ok {
				columns = append(columns, int(idx))
			}
		}
	}

	end := offset + limit
	if end > len(rows) || limit <= 0 {
		end = len(rows)
	}
	if offset > len(rows) {
		offset = len(rows)
	}

	var page [][]string
	for _, row := range rows[offset:end] {
		page = append(page, projectAndTruncate(row, columns))
	}

	return Result{Success: true, Output: map[string]any{
		"sheet":       sheetName,
		"rows":        page,
		"total_rows":  len(rows),
		"offset":      offset,
	}}, nil
}

func projectAndTruncate(row []string, columns []int) []string {
	var selected []string
	if len(columns) == 0 {
		selected = row
	} else {
		for _, idx := range columns {
			if idx >= 0 && idx < len(row) {
				selected = append(selected, row[idx])
			} else {
				selected = append(selected, "")
			}
		}
	}
	out := make([]string, len(selected))
	for i, cell := range selected {
		if len(cell) > cellTruncateLimit {
			out[i] = cell[:cellTruncateLimit] + "...(truncated)"
		} else {
			out[i] = cell
		}
	}
	return out
}

// Write applies one of create / add_sheet / append_rows / update_cell.
func (s *SpreadsheetTools) Write(_ context.Context, args map[string]any, user userctx.Context) (Result, error) {
	name, _ := args["name"].(string)
	mode, _ := args["mode"].(string)
	sheetName, _ := args["sheet"].(string)
	if sheetName == "" {
		sheetName = "Sheet1"
	}

	wb, err := s.load(user.UserID, name)
	if err != nil {
		return Result{}, err
	}

	switch mode {
	case "create":
		wb.Sheets = map[string][][]string{sheetName: {}}
	case "add_sheet":
		if _, exists := wb.Sheets[sheetName]; exists {
			return Result{Success: false, Error: "sheet already exists: " + sheetName}, nil
		}
		wb.Sheets[sheetName] = [][]string{}
	case "append_rows":
		rows, ok := args["rows"].([]any)
		if !ok {
			return Result{Success: false, Error: "rows is required"}, nil
		}
		for _, r := range rows {
			wb.Sheets[sheetName] = append(wb.Sheets[sheetName], toStringRow(r))
		}
	case "update_cell":
		row := intArg(args, "row", -1)
		col := intArg(args, "column", -1)
		value, _ := args["value"].(string)
		if row < 0 || col < 0 {
			return Result{Success: false, Error: "row and column are required"}, nil
		}
		sheet := wb.Sheets[sheetName]
		for len(sheet) <= row {
			sheet = append(sheet, []string{})
		}
		for len(sheet[row]) <= col {
			sheet[row] = append(sheet[row], "")
		}
		sheet[row][col] = value
		wb.Sheets[sheetName] = sheet
	default:
		return Result{Success: false, Error: "unsupported mode: " + mode}, nil
	}

	if err := s.save(user.UserID, name, wb); err != nil {
		return Result{}, err
	}
	return Result{Success: true, Output: map[string]any{"sheet": sheetName, "mode": mode, "row_count": len(wb.Sheets[sheetName])}}, nil
}

func toStringRow(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, len(arr))
	for i, c := range arr {
		out[i] = fmt.Sprintf("%v", c)
	}
	return out
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}
