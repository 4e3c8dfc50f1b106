package extractor

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// extractPDF 逐页提取 PDF 文本，并记录每页在全文中的起始偏移，
// 供后续按分块偏移反查页码使用。
func extractPDF(data []byte) (string, []int, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, 0, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := reader.NumPage()
	var sb bytes.Buffer
	offsets := make([]int, 0, numPages)

	for i := 1; i <= numPages; i++ {
		offsets = append(offsets, sb.Len())

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// 单页解析失败不终止整份文档，该页按空页处理
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	return sb.String(), offsets, numPages, nil
}
