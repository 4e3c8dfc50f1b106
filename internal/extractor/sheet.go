package extractor

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractXlsx 将工作簿逐表展开为文本：每张表以 "Sheet: 表名" 开头，
// 其后是竖线分隔的行，完全空白的行被跳过，保证表格结构以可检索的
// 纯文本形式保留下来。
func extractXlsx(data []byte) (string, int, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("failed to open xlsx workbook: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	sheets := f.GetSheetList()
	for i, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", 0, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Sheet: ")
		sb.WriteString(sheet)
		sb.WriteString("\n")
		for _, row := range rows {
			writePipeRow(&sb, row)
		}
	}
	return sb.String(), len(sheets), nil
}

// extractCSV 将 CSV 展开为与 xlsx 相同的竖线分隔行格式。
func extractCSV(data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1 // 允许行与行之间列数不同

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("failed to parse csv: %w", err)
	}

	var sb strings.Builder
	for _, row := range records {
		writePipeRow(&sb, row)
	}
	return sb.String(), nil
}

// writePipeRow 写出一行竖线分隔的单元格，整行空白时跳过。
func writePipeRow(sb *strings.Builder, row []string) {
	blank := true
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			blank = false
			break
		}
	}
	if blank {
		return
	}
	sb.WriteString(strings.Join(row, " | "))
	sb.WriteString("\n")
}
