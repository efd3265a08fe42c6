package agent

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/CyBearCare/cybear-go/pkg/domain"
)

// 质询令牌的回传位置
const (
	ChallengeHeader = "X-Cybear-Challenge"
	ChallengeParam  = "cybear_challenge"
)

// IncidentHeader 拦截响应携带的事件编号头
const IncidentHeader = "X-Cybear-Incident-Id"

// statusRecorder 捕获响应状态码供审计使用
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware 返回请求防护中间件
// 分析在请求路径内同步完成，上报等重活全部留给后台调度
func (a *Agent) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		snap := Snapshot(r)

		if a.limiter != nil {
			allowed, remaining := a.limiter.Allow(snap.IP)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				a.auditor.LogSecurityEvent(ctx, snap, "rate_limit_exceeded", map[string]any{"ip": snap.IP})
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error": "too many requests",
				})
				return
			}
		}

		result := a.engine.Analyze(ctx, snap)
		if result.Action != domain.ActionAllow {
			// 事件编号在产生结论时铸造，分析审计与拦截记录指向同一事件
			result.IncidentID = uuid.NewString()
		}
		a.auditor.LogAnalysis(ctx, snap, result)

		switch result.Action {
		case domain.ActionBlock:
			a.block(w, r, snap, result)
			return
		case domain.ActionChallenge:
			if !a.challenge(w, r, snap, result) {
				return
			}
		case domain.ActionRedirect:
			a.redirect(w, r, snap, result)
			return
		}

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		a.auditor.LogRequest(ctx, snap, rec.status, time.Since(start))
	})
}

// block 拦截请求并落拦截记录
func (a *Agent) block(w http.ResponseWriter, r *http.Request, snap *domain.RequestSnapshot, result *domain.AnalysisResult) {
	incidentID := a.auditor.LogBlocked(r.Context(), snap, result, blockReason(result))

	w.Header().Set(IncidentHeader, incidentID)
	writeJSON(w, http.StatusForbidden, map[string]any{
		"error":       "request blocked",
		"incident_id": incidentID,
	})
}

// challenge 执行质询流程
// 携带有效令牌时放行并返回 true；否则签发新令牌、阻断本次请求并返回 false
func (a *Agent) challenge(w http.ResponseWriter, r *http.Request, snap *domain.RequestSnapshot, result *domain.AnalysisResult) bool {
	ctx := r.Context()

	token := r.Header.Get(ChallengeHeader)
	if token == "" {
		token = r.URL.Query().Get(ChallengeParam)
	}
	if token != "" && a.challenges.Validate(ctx, token) {
		a.auditor.LogSecurityEvent(ctx, snap, "challenge_passed", map[string]any{"rule_id": result.RuleID})
		return true
	}

	issued, err := a.challenges.Issue(ctx, snap.IP)
	if err != nil {
		// 令牌签发失败时放行，防护层故障不阻断业务
		a.log.Err(err, "质询令牌签发失败", "ip", snap.IP)
		return true
	}

	a.auditor.LogBlocked(ctx, snap, result, "challenge required")

	w.Header().Set(ChallengeHeader, issued)
	writeJSON(w, http.StatusForbidden, map[string]any{
		"error":     "challenge required",
		"challenge": issued,
	})
	return false
}

// redirect 按规则参数重定向
func (a *Agent) redirect(w http.ResponseWriter, r *http.Request, snap *domain.RequestSnapshot, result *domain.AnalysisResult) {
	target, _ := result.ActionParams["url"].(string)
	if target == "" {
		// 缺失目标时退化为拦截
		a.block(w, r, snap, result)
		return
	}

	a.auditor.LogBlocked(r.Context(), snap, result, "redirected by rule")
	http.Redirect(w, r, target, http.StatusFound)
}

// blockReason 拼出人类可读的拦截原因
func blockReason(result *domain.AnalysisResult) string {
	if len(result.MatchedRules) > 0 {
		return "waf rule matched: " + result.MatchedRules[len(result.MatchedRules)-1].Name
	}
	return "waf rule matched"
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
