package agent

import (
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/CyBearCare/cybear-go/pkg/domain"
)

// maxBodyBytes 参与分析的请求体上限，超出部分不读取
const maxBodyBytes = 1 << 20

// Snapshot 从 HTTP 请求构建分析快照
// 读取过请求体后会将其重置，处理链后续环节不受影响
func Snapshot(r *http.Request) *domain.RequestSnapshot {
	snap := &domain.RequestSnapshot{
		Method:      r.Method,
		URL:         requestURL(r),
		Path:        r.URL.Path,
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
		Host:        r.Host,
		Referer:     r.Referer(),
		QueryString: r.URL.RawQuery,
		Headers:     flattenHeaders(r.Header),
		Inputs:      make(map[string]any),
	}

	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			snap.Inputs[key] = values[0]
		}
	}
	mergeBody(r, snap.Inputs)

	return snap
}

// requestURL 还原完整请求 URL
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// clientIP 解析客户端 IP，优先取代理头的第一跳
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// flattenHeaders 多值头只保留首个值
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// mergeBody 将表单或 JSON 提交字段合入命名输入
func mergeBody(r *http.Request, inputs map[string]any) {
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return
		}
		// 请求体交还给后续处理链
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		values, err := url.ParseQuery(string(body))
		if err != nil {
			return
		}
		for key, vs := range values {
			if len(vs) > 0 {
				inputs[key] = vs[0]
			}
		}
	case "application/json":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return
		}
		// 请求体交还给后续处理链
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err != nil {
			return
		}
		for k, v := range parsed {
			inputs[k] = v
		}
	}
}
