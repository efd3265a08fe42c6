package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CyBearCare/cybear-go/pkg/domain"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// sensitiveKeys 序列化请求负载前需要脱敏的字段名片段
var sensitiveKeys = []string{"password", "token", "secret", "api_key", "private_key", "credit_card"}

// sensitiveHeaders 序列化请求头前需要剔除的头部
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"x-csrf-token":  true,
}

// FieldValue 从请求快照提取条件字段的原始文本
// 字段词汇表是封闭枚举，未知字段回落到命名输入查找
func FieldValue(snap *domain.RequestSnapshot, field string) string {
	switch domain.Field(field) {
	case domain.FieldIP:
		return snap.IP
	case domain.FieldUserAgent:
		return snap.UserAgent
	case domain.FieldURL:
		return snap.URL
	case domain.FieldPath:
		return snap.Path
	case domain.FieldMethod:
		return snap.Method
	case domain.FieldQueryString:
		return snap.QueryString
	case domain.FieldPostData:
		// 提交字段以脱敏后的 JSON 序列化参与匹配
		data, err := json.Marshal(snap.Inputs)
		if err != nil {
			return ""
		}
		return RedactJSON(string(data))
	case domain.FieldHeaders:
		data, err := json.Marshal(SanitizeHeaders(snap.Headers))
		if err != nil {
			return ""
		}
		return string(data)
	case domain.FieldReferer:
		return snap.Referer
	case domain.FieldHost:
		return snap.Host
	default:
		// 命名输入回落
		if v, ok := snap.Inputs[field]; ok {
			return stringify(v)
		}
		return ""
	}
}

// SanitizeHeaders 复制请求头并剔除凭据类头部
func SanitizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

// RedactJSON 将 JSON 文本中敏感键的值替换为 [REDACTED]，递归处理嵌套对象
func RedactJSON(data string) string {
	result := gjson.Parse(data)
	if !result.IsObject() {
		return data
	}
	return redactValue(data, "", result)
}

func redactValue(data, prefix string, value gjson.Result) string {
	value.ForEach(func(key, val gjson.Result) bool {
		path := key.String()
		if prefix != "" {
			path = prefix + "." + path
		}
		if isSensitiveKey(key.String()) {
			data, _ = sjson.Set(data, path, "[REDACTED]")
			return true
		}
		if val.IsObject() || val.IsArray() {
			data = redactValue(data, path, val)
		}
		return true
	})
	return data
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// stringify 将任意输入值转为文本参与匹配
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
