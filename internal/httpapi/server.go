// Package httpapi 提供代理的本地管理 HTTP 接口
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// Service 管理接口依赖的代理能力
type Service interface {
	// WafEnabled 返回引擎启用状态
	WafEnabled() bool
	// WafMode 返回当前执法模式
	WafMode() string
	// SetWafEnabled 调整引擎启用状态
	SetWafEnabled(enabled bool)
	// SetWafMode 调整执法模式
	SetWafMode(mode string) error
	// UntransmittedCounts 返回三张事件表的未传输数量
	UntransmittedCounts(ctx context.Context) (audit, blocked, collected int64, err error)
	// SyncRules 立即执行一次规则同步，返回写入条数
	SyncRules(ctx context.Context) (int, error)
	// FlushEvents 立即执行一次数据上报
	FlushEvents(ctx context.Context) (collectedBatches, auditBatches, blockedBatches, failedBatches int, err error)
	// RunCollectors 立即执行一轮采集，返回落盘数量
	RunCollectors(ctx context.Context) int
}

// Server 管理接口入口
// 只应绑定在回环地址，认证交给部署环境
type Server struct {
	svc Service
}

// NewServer 创建管理接口服务
func NewServer(svc Service) *Server {
	return &Server{svc: svc}
}

// ServeHTTP 处理所有管理请求
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrInvalidRequest.withError(err))
		return
	}
	res := s.dispatch(r.Context(), &req)
	writeResponse(w, res)
}

// Request 表示通用请求结构
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id,omitempty"`
	Params json.RawMessage `json:"params"`
}

// Response 表示通用响应结构
type Response struct {
	ID     string       `json:"id,omitempty"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorObject `json:"error,omitempty"`
}

// ErrorObject 表示错误信息
type ErrorObject struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ApiError 表示内部错误类型
type ApiError struct {
	Code string
	Err  error
}

func (e ApiError) withError(err error) ApiError {
	return ApiError{Code: e.Code, Err: err}
}

var (
	// ErrInvalidRequest 无效请求
	ErrInvalidRequest = ApiError{Code: "invalid_request"}
	// ErrMethodNotFound 方法不存在
	ErrMethodNotFound = ApiError{Code: "method_not_found"}
	// ErrInvalidParams 参数错误
	ErrInvalidParams = ApiError{Code: "invalid_params"}
	// ErrInternal 内部错误
	ErrInternal = ApiError{Code: "internal"}
)

// statusResult 代理状态查询结果
type statusResult struct {
	WafEnabled             bool   `json:"wafEnabled"`
	WafMode                string `json:"wafMode"`
	UntransmittedAudit     int64  `json:"untransmittedAudit"`
	UntransmittedBlocked   int64  `json:"untransmittedBlocked"`
	UntransmittedCollected int64  `json:"untransmittedCollected"`
}

// wafModeParams 执法模式调整参数
type wafModeParams struct {
	Mode string `json:"mode"`
}

// syncResult 规则同步结果
type syncResult struct {
	Synced int `json:"synced"`
}

// flushResult 数据上报结果
type flushResult struct {
	CollectedBatches int `json:"collectedBatches"`
	AuditBatches     int `json:"auditBatches"`
	BlockedBatches   int `json:"blockedBatches"`
	FailedBatches    int `json:"failedBatches"`
}

// collectResult 采集执行结果
type collectResult struct {
	Stored int `json:"stored"`
}

// dispatch 根据 method 分发请求
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	var (
		result interface{}
		err    *ErrorObject
	)
	switch req.Method {
	case "agent.status":
		result, err = s.handleStatus(ctx)
	case "waf.enable":
		s.svc.SetWafEnabled(true)
	case "waf.disable":
		s.svc.SetWafEnabled(false)
	case "waf.mode":
		result, err = s.handleWafMode(ctx, req.Params)
	case "rules.sync":
		result, err = s.handleRulesSync(ctx)
	case "data.flush":
		result, err = s.handleDataFlush(ctx)
	case "collect.run":
		result, err = s.handleCollectRun(ctx)
	default:
		err = toErrorObject(ErrMethodNotFound)
	}
	return &Response{ID: req.ID, Result: result, Error: err}
}

// writeResponse 写出统一响应
func writeResponse(w http.ResponseWriter, res *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	_ = enc.Encode(res)
}

// writeError 写出错误响应
func writeError(w http.ResponseWriter, apiErr ApiError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	_ = enc.Encode(&Response{Error: toErrorObject(apiErr)})
}

// toErrorObject 转换错误为响应错误对象
func toErrorObject(e ApiError) *ErrorObject {
	msg := e.Code
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return &ErrorObject{Code: e.Code, Message: msg}
}

// handleStatus 处理代理状态查询
func (s *Server) handleStatus(ctx context.Context) (interface{}, *ErrorObject) {
	audit, blocked, collected, err := s.svc.UntransmittedCounts(ctx)
	if err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return &statusResult{
		WafEnabled:             s.svc.WafEnabled(),
		WafMode:                s.svc.WafMode(),
		UntransmittedAudit:     audit,
		UntransmittedBlocked:   blocked,
		UntransmittedCollected: collected,
	}, nil
}

// handleWafMode 处理执法模式调整
func (s *Server) handleWafMode(_ context.Context, params json.RawMessage) (interface{}, *ErrorObject) {
	var p wafModeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, toErrorObject(ErrInvalidParams.withError(err))
	}
	if p.Mode == "" {
		return nil, toErrorObject(ErrInvalidParams.withError(errors.New("mode is required")))
	}
	if err := s.svc.SetWafMode(p.Mode); err != nil {
		return nil, toErrorObject(ErrInvalidParams.withError(err))
	}
	return nil, nil
}

// handleRulesSync 处理规则同步
func (s *Server) handleRulesSync(ctx context.Context) (interface{}, *ErrorObject) {
	n, err := s.svc.SyncRules(ctx)
	if err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return &syncResult{Synced: n}, nil
}

// handleDataFlush 处理数据上报
func (s *Server) handleDataFlush(ctx context.Context) (interface{}, *ErrorObject) {
	collected, audit, blocked, failed, err := s.svc.FlushEvents(ctx)
	if err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return &flushResult{
		CollectedBatches: collected,
		AuditBatches:     audit,
		BlockedBatches:   blocked,
		FailedBatches:    failed,
	}, nil
}

// handleCollectRun 处理采集执行
func (s *Server) handleCollectRun(ctx context.Context) (interface{}, *ErrorObject) {
	return &collectResult{Stored: s.svc.RunCollectors(ctx)}, nil
}
