package push

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Response 推送服务的响应体
// Recipients 可能缺失；Errors 在解码时统一归一化为字符串列表
type Response struct {
	ID         string `json:"id"`
	Recipients *int   `json:"recipients,omitempty"`
	Errors     Errors `json:"errors,omitempty"`
}

// RecipientCount 返回服务端报告的接收者数量，缺失时退回 fallback（请求中的标识数量）
func (r *Response) RecipientCount(fallback int) int {
	if r == nil || r.Recipients == nil {
		return fallback
	}
	return *r.Recipients
}

// Errors 兼容三种形状：
//
//	["msg", ...]
//	[{"message": "msg"}, ...]
//	{"invalid_player_ids": ["a", "b"]}
type Errors []string

func (e *Errors) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*e = nil
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err == nil {
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s := errorItemText(item); s != "" {
				out = append(out, s)
			}
		}
		*e = out
		return nil
	}

	var byKey map[string]json.RawMessage
	if err := json.Unmarshal(data, &byKey); err == nil {
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make([]string, 0, len(keys))
		for _, k := range keys {
			var values []string
			if err := json.Unmarshal(byKey[k], &values); err == nil {
				out = append(out, fmt.Sprintf("%s: %s", k, strings.Join(values, ", ")))
				continue
			}
			out = append(out, fmt.Sprintf("%s: %s", k, errorItemText(byKey[k])))
		}
		*e = out
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*e = Errors{single}
		return nil
	}

	return fmt.Errorf("unsupported errors shape: %s", trimmed)
}

func errorItemText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
		Title   string `json:"title"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		switch {
		case obj.Message != "":
			return obj.Message
		case obj.Title != "":
			return obj.Title
		case obj.Code != "":
			return obj.Code
		}
	}
	return strings.TrimSpace(string(raw))
}
