package extractor

import (
	"strings"
	"unicode/utf8"
)

// extractPlainText 直接按 UTF-8 解码文本类文件，
// 非法字节序列被剔除而不是导致整个文件提取失败。
func extractPlainText(data []byte) (string, error) {
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	return text, nil
}
