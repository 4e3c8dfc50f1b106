// Package chunker 将提取出的文档文本切分为带重叠的检索分块。
package chunker

import (
	"strings"
)

// 默认切分参数，可被配置覆盖。
const (
	DefaultTargetWords  = 300
	DefaultOverlapWords = 150
	DefaultMaxWords     = 500
	DefaultMinWords     = 50
)

// Chunk 是一个检索分块：有序、带相对于源文本的字符偏移。
type Chunk struct {
	Index       int    // 从 0 开始的分块序号
	Text        string // 分块文本，含上一块尾部的重叠词
	StartOffset int
	EndOffset   int
	WordCount   int
}

// Chunker 按段落边界累积文本并在块间保留词级重叠。
type Chunker struct {
	targetWords  int
	overlapWords int
	maxWords     int
	minWords     int
}

// Option 用于调整 Chunker 的切分参数。
type Option func(*Chunker)

// WithTargetWords 设置单个分块的目标词数。
func WithTargetWords(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.targetWords = n
		}
	}
}

// WithOverlapWords 设置相邻分块之间的重叠词数。
func WithOverlapWords(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapWords = n
		}
	}
}

// WithWordBounds 设置单个分块的词数上下界。
func WithWordBounds(minWords, maxWords int) Option {
	return func(c *Chunker) {
		if minWords > 0 {
			c.minWords = minWords
		}
		if maxWords > 0 {
			c.maxWords = maxWords
		}
	}
}

// New 创建一个 Chunker。重叠词数会被收窄到目标词数以内。
func New(opts ...Option) *Chunker {
	c := &Chunker{
		targetWords:  DefaultTargetWords,
		overlapWords: DefaultOverlapWords,
		maxWords:     DefaultMaxWords,
		minWords:     DefaultMinWords,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlapWords >= c.targetWords {
		c.overlapWords = c.targetWords / 2
	}
	if c.maxWords < c.targetWords {
		c.maxWords = c.targetWords
	}
	return c
}

// Split 将文本切分为有序分块。
// 算法：按空行切出段落（从不在句子中间断开），向缓冲累积段落；当再加入
// 一个段落会使缓冲词数超过目标时关闭当前块，并以被关闭块的最后
// overlapWords 个词作为下一块的种子前缀，保证块边界两侧的上下文连续。
// 整篇短于目标词数时恰好产出一个与原文相同的分块。
func (c *Chunker) Split(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	totalWords := len(strings.Fields(text))
	if totalWords <= c.targetWords {
		return []Chunk{{
			Index:     0,
			Text:      text,
			EndOffset: len(text),
			WordCount: totalWords,
		}}
	}

	bodies := c.groupParagraphs(c.splitParagraphs(text))

	// 过短的尾块并入前一块，避免产出无检索价值的碎片
	if len(bodies) >= 2 {
		last := bodies[len(bodies)-1]
		if len(strings.Fields(last)) < c.minWords {
			bodies[len(bodies)-2] = bodies[len(bodies)-2] + "\n\n" + last
			bodies = bodies[:len(bodies)-1]
		}
	}

	chunks := make([]Chunk, 0, len(bodies))
	overlap := ""
	nextStart := 0
	for _, body := range bodies {
		chunkText := body
		if overlap != "" {
			chunkText = overlap + "\n\n" + body
		}
		end := nextStart + len(chunkText)
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Text:        chunkText,
			StartOffset: nextStart,
			EndOffset:   end,
			WordCount:   len(strings.Fields(chunkText)),
		})

		overlap = lastWords(chunkText, c.overlapWords)
		nextStart = end - len(overlap)
	}
	return chunks
}

// splitParagraphs 按空行切出段落，超长段落再按词数硬切，
// 保证没有单个段落超过 maxWords。
func (c *Chunker) splitParagraphs(text string) []string {
	var paragraphs []string
	for _, raw := range strings.Split(text, "\n\n") {
		para := strings.TrimSpace(raw)
		if para == "" {
			continue
		}
		words := strings.Fields(para)
		if len(words) <= c.maxWords {
			paragraphs = append(paragraphs, para)
			continue
		}
		for start := 0; start < len(words); start += c.targetWords {
			end := start + c.targetWords
			if end > len(words) {
				end = len(words)
			}
			paragraphs = append(paragraphs, strings.Join(words[start:end], " "))
		}
	}
	// 文本非空但没有空行分隔时，整篇按一个段落处理而不是产出零个分块
	if len(paragraphs) == 0 {
		paragraphs = []string{text}
	}
	return paragraphs
}

// groupParagraphs 将段落依次并入缓冲，超过目标词数时封口。
// 缓冲词数不含重叠种子，重叠在物化分块时再行前缀。
func (c *Chunker) groupParagraphs(paragraphs []string) []string {
	var bodies []string
	var buf []string
	bufWords := 0

	for _, para := range paragraphs {
		w := len(strings.Fields(para))
		if bufWords > 0 && bufWords+w > c.targetWords {
			bodies = append(bodies, strings.Join(buf, "\n\n"))
			buf = buf[:0]
			bufWords = 0
		}
		buf = append(buf, para)
		bufWords += w
	}
	if len(buf) > 0 {
		bodies = append(bodies, strings.Join(buf, "\n\n"))
	}
	return bodies
}

// lastWords 取文本末尾 n 个词，用单个空格连接。
func lastWords(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}
