package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrRecognitionRejected 识别服务明确拒绝（鉴权失败、音频非法等，永久失败）
var ErrRecognitionRejected = errors.New("speech recognition rejected")

const (
	recognizeURL = "https://transcribe.api.cloud.yandex.net/speech/stt/v2/longRunningRecognize"
	operationURL = "https://operation.api.cloud.yandex.net/operations/"
)

// Client 异步语音识别客户端。
// 识别是长任务：提交后拿到 operation id，轮询直到 done。
type Client struct {
	apiKey       string
	language     string
	pollInterval time.Duration
	httpClient   *http.Client

	// 可在测试中覆盖端点
	recognizeURL string
	operationURL string
}

func NewClient(apiKey, language string, pollInterval time.Duration) *Client {
	if language == "" {
		language = "ru-RU"
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Client{
		apiKey:       apiKey,
		language:     language,
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		recognizeURL: recognizeURL,
		operationURL: operationURL,
	}
}

// Transcribe 提交音频 URL 并轮询结果，返回合并后的转写文本。
// 总时长由 ctx 控制（上层配置 TRANSCRIBE_TIMEOUT）。
func (c *Client) Transcribe(ctx context.Context, audioURL string) (string, error) {
	opID, err := c.startRecognition(ctx, audioURL)
	if err != nil {
		return "", err
	}
	return c.pollOperation(ctx, opID)
}

func (c *Client) startRecognition(ctx context.Context, audioURL string) (string, error) {
	body := map[string]any{
		"config": map[string]any{
			"specification": map[string]any{
				"languageCode":    c.language,
				"model":           "general",
				"profanityFilter": false,
				"audioEncoding":   "MP3",
			},
		},
		"audio": map[string]any{
			"uri": audioURL,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.recognizeURL, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("start recognition: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", fmt.Errorf("%w: status %d", ErrRecognitionRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("start recognition: status %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: empty operation id", ErrRecognitionRejected)
	}
	return out.ID, nil
}

// pollOperation 轮询 operation 直到 done，合并 chunks 文本
func (c *Client) pollOperation(ctx context.Context, opID string) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		op, err := c.getOperation(ctx, opID)
		if err != nil {
			return "", err
		}
		if !op.Done {
			continue
		}
		if op.Error != nil {
			return "", fmt.Errorf("%w: %s", ErrRecognitionRejected, op.Error.Message)
		}

		var parts []string
		for _, chunk := range op.Response.Chunks {
			if len(chunk.Alternatives) > 0 {
				parts = append(parts, chunk.Alternatives[0].Text)
			}
		}
		text := strings.TrimSpace(strings.Join(parts, " "))
		if text == "" {
			return "", fmt.Errorf("%w: empty transcript", ErrRecognitionRejected)
		}
		return text, nil
	}
}

type operation struct {
	Done  bool `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response struct {
		Chunks []struct {
			Alternatives []struct {
				Text string `json:"text"`
			} `json:"alternatives"`
		} `json:"chunks"`
	} `json:"response"`
}

func (c *Client) getOperation(ctx context.Context, opID string) (*operation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.operationURL+opID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll operation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("poll operation: status %d: %s", resp.StatusCode, string(body))
	}

	var op operation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}
	return &op, nil
}
