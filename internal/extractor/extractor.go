// Package extractor 将上传的原始文件字节解析为纯文本，供后续分块与向量化使用。
package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"edu-smart-go/pkg/llm"
	"edu-smart-go/pkg/log"
)

// 提取方法标识，写入分块元数据，便于排查某个分块的来源。
const (
	MethodPDF   = "pdf"
	MethodDocx  = "docx"
	MethodPptx  = "pptx"
	MethodPpt   = "ppt"
	MethodXlsx  = "xlsx"
	MethodCSV   = "csv"
	MethodOCR   = "ocr"
	MethodText  = "text"
	MethodUnsup = "unsupported"
)

// ExtractedDocument 是一次提取的完整结果。提取失败时 Text 为空、Error 非空，
// 调用方据此将资料标记为提取失败，但绝不会收到 error 返回值。
type ExtractedDocument struct {
	Text        string
	Method      string
	PageCount   int
	SheetCount  int
	PageOffsets []int // 每一页文本在 Text 中的起始字符偏移，仅分页格式填写
	Error       string
}

// Extractor 按声明的 MIME 类型分发到具体格式的解析器。
type Extractor struct {
	vision llm.VisionClient
}

// New 创建一个 Extractor。vision 为 nil 时图片类资料会被标记为提取失败。
func New(vision llm.VisionClient) *Extractor {
	return &Extractor{vision: vision}
}

// Extract 提取文件文本。任何格式内部的解析错误都会被就地吸收为
// ExtractedDocument.Error，保证批量入库时单个坏文件不影响其他资料。
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType, fileName string) (doc ExtractedDocument) {
	method := resolveMethod(mimeType, fileName)
	doc.Method = method

	// 个别第三方解析库在损坏文件上会 panic，这里统一兜住转为提取失败
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Extractor] 解析过程发生 panic, file: %s, method: %s, panic: %v", fileName, method, r)
			doc = ExtractedDocument{Method: method, Error: fmt.Sprintf("parser panic: %v", r)}
		}
	}()

	log.Infof("[Extractor] 开始提取文件文本, file: %s, mime: %s, method: %s, size: %d", fileName, mimeType, method, len(data))

	var err error
	switch method {
	case MethodPDF:
		doc.Text, doc.PageOffsets, doc.PageCount, err = extractPDF(data)
	case MethodDocx:
		doc.Text, err = extractDocx(data)
	case MethodPptx:
		doc.Text, doc.PageOffsets, doc.PageCount, err = extractPptx(data)
	case MethodPpt:
		doc.Text, err = extractPpt(data)
	case MethodXlsx:
		doc.Text, doc.SheetCount, err = extractXlsx(data)
	case MethodCSV:
		doc.Text, err = extractCSV(data)
	case MethodOCR:
		doc.Text, err = e.extractImage(ctx, data, mimeType)
	case MethodText:
		doc.Text, err = extractPlainText(data)
	default:
		err = fmt.Errorf("unsupported file format: %s (%s)", mimeType, fileName)
	}

	if err != nil {
		log.Errorf("[Extractor] 提取文件文本失败, file: %s, method: %s, error: %v", fileName, method, err)
		return ExtractedDocument{Method: method, Error: err.Error()}
	}

	doc.Text = strings.TrimSpace(doc.Text)
	log.Infof("[Extractor] 提取完成, file: %s, text_len: %d, pages: %d, sheets: %d", fileName, len(doc.Text), doc.PageCount, doc.SheetCount)
	return doc
}

// extractImage 通过多模态 OCR 提取图片中的文字。
func (e *Extractor) extractImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if e.vision == nil {
		return "", fmt.Errorf("ocr client is not configured")
	}
	return e.vision.ExtractImageText(ctx, data, mimeType)
}

// resolveMethod 优先根据 MIME 类型判定格式，无法识别时退回到文件扩展名。
func resolveMethod(mimeType, fileName string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0])) {
	case "application/pdf":
		return MethodPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return MethodDocx
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return MethodPptx
	case "application/vnd.ms-powerpoint":
		return MethodPpt
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return MethodXlsx
	case "text/csv":
		return MethodCSV
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return MethodOCR
	case "text/plain", "text/markdown", "text/html", "application/json":
		return MethodText
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return MethodPDF
	case ".docx":
		return MethodDocx
	case ".pptx":
		return MethodPptx
	case ".ppt":
		return MethodPpt
	case ".xlsx":
		return MethodXlsx
	case ".csv":
		return MethodCSV
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return MethodOCR
	case ".txt", ".md", ".go", ".py", ".java", ".c", ".cpp", ".js", ".ts", ".json", ".html":
		return MethodText
	}
	return MethodUnsup
}
