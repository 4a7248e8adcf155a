package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"expenseflow/pkg/config"
	"expenseflow/pkg/metrics"
	"expenseflow/pkg/otel"
)

// GenericErrorMessage 响应体中没有结构化错误时使用
const GenericErrorMessage = "Error al enviar la notificación push"

const maxErrorBody = 64 * 1024

// Message 一次投递：全部接收者共用同一标题和内容
type Message struct {
	SubscriptionIDs []string
	Title           string
	Body            string
}

// APIError 推送服务返回非 2xx
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

type localized struct {
	En string `json:"en"`
	Es string `json:"es"`
}

type request struct {
	AppID                  string    `json:"app_id"`
	IncludeSubscriptionIDs []string  `json:"include_subscription_ids"`
	TargetChannel          string    `json:"target_channel"`
	Headings               localized `json:"headings"`
	Contents               localized `json:"contents"`
	WebURL                 string    `json:"web_url,omitempty"`
	ChromeWebIcon          string    `json:"chrome_web_icon,omitempty"`
	FirefoxIcon            string    `json:"firefox_icon,omitempty"`
}

type Client struct {
	apiURL     string
	appID      string
	apiKey     string
	webURL     string
	iconURL    string
	httpClient *http.Client
}

func NewClient(cfg config.PushConfig) *Client {
	timeout := 10 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{
		apiURL:  cfg.APIURL,
		appID:   cfg.AppID,
		apiKey:  cfg.APIKey,
		webURL:  cfg.WebURL,
		iconURL: cfg.IconURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HasCredential 是否配置了推送 API 密钥
func (c *Client) HasCredential() bool {
	return c.apiKey != ""
}

// Send 发起一次投递请求
func (c *Client) Send(ctx context.Context, msg Message) (_ *Response, err error) {
	ctx, span := otel.ClientSpan(ctx, "push.send",
		attribute.String("push.app_id", c.appID),
		attribute.Int("push.recipients", len(msg.SubscriptionIDs)),
	)
	defer func() { otel.EndSpan(span, err) }()

	body, err := json.Marshal(request{
		AppID:                  c.appID,
		IncludeSubscriptionIDs: msg.SubscriptionIDs,
		TargetChannel:          "push",
		Headings:               localized{En: msg.Title, Es: msg.Title},
		Contents:               localized{En: msg.Body, Es: msg.Body},
		WebURL:                 c.webURL,
		ChromeWebIcon:          c.iconURL,
		FirefoxIcon:            c.iconURL,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordPushCallLatency("error", time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()
	metrics.RecordPushCallLatency(strconv.Itoa(resp.StatusCode), time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    firstErrorOrFallback(raw),
		}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode push response: %w", err)
	}
	return &out, nil
}

func firstErrorOrFallback(raw []byte) string {
	var r Response
	if err := json.Unmarshal(raw, &r); err == nil && len(r.Errors) > 0 && r.Errors[0] != "" {
		return r.Errors[0]
	}
	return GenericErrorMessage
}
