// Package llm provides a client for interacting with multimodal Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"edu-smart-go/internal/config"
	"edu-smart-go/pkg/log"
)

// NoTextSentinel 是模型在图片中未发现任何文字时约定返回的标记。
// 提取层将其视为"空文本"而不是错误。
const NoTextSentinel = "NO_TEXT_FOUND"

// ocrPrompt 指示模型只输出图片中的文字本身。
const ocrPrompt = "请逐字提取这张图片中出现的所有文字，保持原有的阅读顺序，不要添加任何解释。" +
	"如果图片中没有任何文字，只回答 " + NoTextSentinel + "。"

// VisionClient defines the interface for a multimodal OCR client.
type VisionClient interface {
	ExtractImageText(ctx context.Context, imageData []byte, mimeType string) (string, error)
}

type openAICompatibleVisionClient struct {
	cfg    config.OCRConfig
	client *http.Client
}

// NewVisionClient creates a new multimodal OCR client based on the config.
func NewVisionClient(cfg config.OCRConfig) VisionClient {
	return &openAICompatibleVisionClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type visionContentPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *visionImagePart `json:"image_url,omitempty"`
}

type visionImagePart struct {
	URL string `json:"url"`
}

type visionMessage struct {
	Role    string              `json:"role"`
	Content []visionContentPart `json:"content"`
}

type visionChatRequest struct {
	Model    string          `json:"model"`
	Messages []visionMessage `json:"messages"`
}

type visionChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractImageText calls the OpenAI-compatible vision API to OCR an image.
func (c *openAICompatibleVisionClient) ExtractImageText(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	log.Infof("[VisionClient] 开始调用多模态 OCR, model: %s, image_bytes: %d", c.cfg.Model, len(imageData))

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))
	reqBody := visionChatRequest{
		Model: c.cfg.Model,
		Messages: []visionMessage{
			{
				Role: "user",
				Content: []visionContentPart{
					{Type: "text", Text: ocrPrompt},
					{Type: "image_url", ImageURL: &visionImagePart{URL: dataURL}},
				},
			},
		},
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create vision request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[VisionClient] 调用多模态 OCR 失败, error: %v", err)
		return "", fmt.Errorf("failed to call vision api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[VisionClient] OCR API 返回非 200 状态码: %s", resp.Status)
		return "", fmt.Errorf("vision api returned non-200 status: %s", resp.Status)
	}

	var chatResp visionChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		log.Errorf("[VisionClient] 解析 OCR 响应失败, error: %v", err)
		return "", fmt.Errorf("failed to decode vision response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("received empty choices from vision api")
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == NoTextSentinel {
		// 图片中没有文字不是错误，按空文本处理
		log.Infof("[VisionClient] 图片中未发现文字")
		return "", nil
	}

	log.Infof("[VisionClient] OCR 成功, 提取文本长度: %d", len(content))
	return content, nil
}
