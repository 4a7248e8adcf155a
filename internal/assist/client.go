package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"expenseflow/pkg/circuitbreaker"
	"expenseflow/pkg/config"
	"expenseflow/pkg/metrics"
	"expenseflow/pkg/otel"
)

var (
	ErrNotConfigured = errors.New("assist gateway is not configured")
	ErrEmptyDraft    = errors.New("assist gateway returned an empty draft")
)

const systemPrompt = `Eres un asistente que redacta notificaciones push para una aplicación interna de requisiciones y reembolsos de gastos.
Responde únicamente con un objeto JSON {"title": "...", "message": "..."}.
El título debe tener como máximo 60 caracteres y el mensaje como máximo 180.`

// Draft 生成的通知草稿
type Draft struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client OpenAI 兼容的 chat completions 网关
type Client struct {
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(cfg config.AssistConfig, logger *zap.Logger) *Client {
	timeout := 15 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Assist gateway circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: circuitbreaker.NewCircuitBreaker(breakerCfg),
		logger:  logger,
	}
}

// DraftNotification 根据主题和受众生成草稿
func (c *Client) DraftNotification(ctx context.Context, topic, audience string) (*Draft, error) {
	if c.url == "" {
		return nil, ErrNotConfigured
	}

	var draft *Draft
	err := c.breaker.Execute(func() error {
		d, err := c.complete(ctx, topic, audience)
		if err != nil {
			return err
		}
		draft = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

func (c *Client) complete(ctx context.Context, topic, audience string) (_ *Draft, err error) {
	ctx, span := otel.ClientSpan(ctx, "assist.chat_completion", attribute.String("assist.model", c.model))
	defer func() { otel.EndSpan(span, err) }()

	prompt := fmt.Sprintf("Tema: %s\nAudiencia: %s", topic, audience)
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAssistCallLatency("error", time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()
	metrics.RecordAssistCallLatency(strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("assist gateway 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("assist gateway error: %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode assist response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyDraft
	}

	var draft Draft
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```json"), "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &draft); err != nil {
		return nil, fmt.Errorf("failed to decode draft content: %w", err)
	}
	if draft.Title == "" || draft.Message == "" {
		return nil, ErrEmptyDraft
	}
	return &draft, nil
}
