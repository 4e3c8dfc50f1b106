package extractor

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
)

// 旧版 ppt 二进制格式中的文本记录类型。
// 记录流中只有这几类记录的载荷是幻灯片文字。
const (
	recTypeTextCharsAtom = 0x0FA0 // UTF-16LE 文本
	recTypeTextBytesAtom = 0x0FA8 // 单字节文本（UTF-16 低字节）
	recTypeCStringAtom   = 0x0FBA // UTF-16LE 字符串

	pptRecordHeaderLen = 8
	// 容器记录的版本标记：recVer 四位全为 1 时该记录是容器而非原子记录
	pptContainerVer = 0x0F
)

// extractPpt 解析旧版二进制 ppt。文件是一个长度前缀的记录流：
// 容器记录包裹子记录（跳过 8 字节头后递归下降），原子记录携带载荷。
// 只读取携带文本的原子记录，其余记录按长度跳过。
func extractPpt(data []byte) (string, error) {
	if len(data) < pptRecordHeaderLen {
		return "", fmt.Errorf("ppt file too short: %d bytes", len(data))
	}

	var sb strings.Builder
	walkPptRecords(data, &sb, 0)

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("no text records found in ppt stream")
	}
	return text, nil
}

// walkPptRecords 顺序扫描一段记录流。所有边界检查集中在这里，
// 载荷越界的记录直接终止当前层的扫描而不是 panic。
func walkPptRecords(data []byte, sb *strings.Builder, depth int) {
	if depth > 32 {
		return
	}

	pos := 0
	for pos+pptRecordHeaderLen <= len(data) {
		verAndInstance := binary.LittleEndian.Uint16(data[pos:])
		recVer := verAndInstance & 0x000F
		recType := binary.LittleEndian.Uint16(data[pos+2:])
		recLen := int(binary.LittleEndian.Uint32(data[pos+4:]))

		payloadStart := pos + pptRecordHeaderLen
		payloadEnd := payloadStart + recLen
		if recLen < 0 || payloadEnd > len(data) {
			return
		}
		payload := data[payloadStart:payloadEnd]

		if recVer == pptContainerVer {
			// 容器记录：跳过头部，下降扫描其载荷中的子记录
			walkPptRecords(payload, sb, depth+1)
		} else {
			switch recType {
			case recTypeTextCharsAtom, recTypeCStringAtom:
				appendLine(sb, decodeUTF16LE(payload))
			case recTypeTextBytesAtom:
				appendLine(sb, decodeLowBytes(payload))
			}
		}

		pos = payloadEnd
	}
}

func appendLine(sb *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	sb.WriteString(text)
	sb.WriteString("\n")
}

// decodeUTF16LE 将两字节一字符的小端载荷解码为字符串。
func decodeUTF16LE(payload []byte) string {
	units := make([]uint16, 0, len(payload)/2)
	for i := 0; i+1 < len(payload); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(payload[i:]))
	}
	return sanitizePptText(string(utf16.Decode(units)))
}

// decodeLowBytes 处理单字节编码：每个字节是 UTF-16 码元的低字节。
func decodeLowBytes(payload []byte) string {
	runes := make([]rune, 0, len(payload))
	for _, b := range payload {
		runes = append(runes, rune(b))
	}
	return sanitizePptText(string(runes))
}

// sanitizePptText 将 ppt 文本记录内部的段落/换行控制符统一成换行。
func sanitizePptText(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\v':
			return '\n'
		case 0:
			return -1
		}
		return r
	}, s)
}
