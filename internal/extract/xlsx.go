package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractXLSX renders each sheet as tab-separated rows, sheets separated by
// a blank line.
func extractXLSX(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open XLSX: %w", err)
	}
	defer f.Close()

	var sheets []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			sheets = append(sheets, s)
		}
	}
	return strings.Join(sheets, "\n\n"), nil
}
