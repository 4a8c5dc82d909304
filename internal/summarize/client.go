package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrSummarizationRejected 摘要服务明确拒绝（鉴权失败、内容策略等，永久失败）
var ErrSummarizationRejected = errors.New("summarization rejected")

const completionURL = "https://llm.api.cloud.yandex.net/foundationModels/v1/completion"

// maxTranscriptChars 提交给模型的转写文本上限，超出截断（给 prompt 留空间）
const maxTranscriptChars = 25000

const systemPrompt = `Ты — ассистент, который составляет конспекты лекций.
По транскрипции лекции составь структурированный конспект в формате Markdown:
- краткое содержание (2-3 предложения)
- основные темы с подзаголовками
- ключевые определения и формулы
- выводы
Пиши на языке лекции, не добавляй ничего от себя.`

// Client 摘要服务客户端
type Client struct {
	apiKey     string
	folderID   string
	model      string
	httpClient *http.Client

	// 可在测试中覆盖端点
	completionURL string
}

func NewClient(apiKey, folderID, model string) *Client {
	if model == "" {
		model = "yandexgpt-lite"
	}
	return &Client{
		apiKey:        apiKey,
		folderID:      folderID,
		model:         model,
		httpClient:    &http.Client{Timeout: 2 * time.Minute},
		completionURL: completionURL,
	}
}

// ModelURI 完整模型标识
func (c *Client) ModelURI() string {
	return fmt.Sprintf("gpt://%s/%s", c.folderID, c.model)
}

// Summarize 对转写文本生成结构化摘要（Markdown）。
// 讲座标题作为上下文放在用户消息开头；超长转写截断到 maxTranscriptChars。
func (c *Client) Summarize(ctx context.Context, title, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", fmt.Errorf("%w: empty transcript", ErrSummarizationRejected)
	}
	if len(transcript) > maxTranscriptChars {
		transcript = transcript[:maxTranscriptChars]
	}

	userText := transcript
	if title = strings.TrimSpace(title); title != "" {
		userText = fmt.Sprintf("# Лекция: %s\n\n%s", title, transcript)
	}

	body := map[string]any{
		"modelUri": c.ModelURI(),
		"completionOptions": map[string]any{
			"stream":      false,
			"temperature": 0.3,
			"maxTokens":   "2000",
		},
		"messages": []map[string]string{
			{"role": "system", "text": systemPrompt},
			{"role": "user", "text": userText},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionURL, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", fmt.Errorf("%w: status %d", ErrSummarizationRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion request: status %d", resp.StatusCode)
	}

	var out struct {
		Result struct {
			Alternatives []struct {
				Message struct {
					Text string `json:"text"`
				} `json:"message"`
			} `json:"alternatives"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Result.Alternatives) == 0 || strings.TrimSpace(out.Result.Alternatives[0].Message.Text) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrSummarizationRejected)
	}
	return strings.TrimSpace(out.Result.Alternatives[0].Message.Text), nil
}
