package errx

import (
	"errors"
	"fmt"
)

type Code string

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }

func Wrap(code Code, err error, msg string) *Error { return &Error{Code: code, Msg: msg, Err: err} }

func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

const (
	CodeNotConfigured     Code = "NOT_CONFIGURED"     // API 端点或密钥未配置
	CodeNotAuthorized     Code = "NOT_AUTHORIZED"     // 远端授权/激活失败
	CodeRemoteUnavailable Code = "REMOTE_UNAVAILABLE" // 连接失败或 5xx，重试预算耗尽
	CodeClientError       Code = "CLIENT_ERROR"       // 4xx 类错误，不重试
	CodeRuleMalformed     Code = "RULE_MALFORMED"     // 规则条件树格式非法
	CodeInsecureEndpoint  Code = "INSECURE_ENDPOINT"  // 非 HTTPS 端点
)
