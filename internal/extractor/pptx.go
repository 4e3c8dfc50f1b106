package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var pptxSlidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPptx 解包 pptx，按幻灯片编号顺序提取每页文本。
// 每张幻灯片视为一页，记录其在全文中的起始偏移。
func extractPptx(data []byte) (string, []int, int, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, 0, fmt.Errorf("failed to open pptx archive: %w", err)
	}

	// ZIP 内条目顺序不保证与幻灯片顺序一致，按编号排序
	type slideEntry struct {
		num  int
		name string
	}
	var slides []slideEntry
	for _, file := range reader.File {
		m := pptxSlidePattern.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slideEntry{num: num, name: file.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var sb strings.Builder
	offsets := make([]int, 0, len(slides))
	for _, slide := range slides {
		offsets = append(offsets, sb.Len())

		content, err := readArchiveFile(reader, slide.name)
		if err != nil {
			return "", nil, 0, err
		}
		text, err := parseSlideXML(content)
		if err != nil {
			return "", nil, 0, fmt.Errorf("failed to parse %s: %w", slide.name, err)
		}
		if text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}

	return sb.String(), offsets, len(slides), nil
}

// parseSlideXML 逐 token 扫描幻灯片 XML，收集所有 <a:t> 文本元素的内容。
func parseSlideXML(content []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(content))
	var sb strings.Builder
	inText := false

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
