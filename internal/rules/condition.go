// Package rules 实现 WAF 规则的条件评估、缓存与同步
package rules

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/CyBearCare/cybear-go/internal/logger"
	"github.com/CyBearCare/cybear-go/internal/regexutil"
	"github.com/CyBearCare/cybear-go/pkg/domain"
)

// Evaluator 条件树评估器
// 纯函数式评估：任何形态的非法输入都按不匹配处理，绝不向调用方抛出异常
type Evaluator struct {
	regex *regexutil.Cache
	log   logger.Logger
}

// NewEvaluator 创建条件评估器
func NewEvaluator(l logger.Logger) *Evaluator {
	if l == nil {
		l = logger.Nop()
	}
	return &Evaluator{
		regex: regexutil.New(),
		log:   l,
	}
}

// Evaluate 对请求快照评估条件树
// 组合节点空子条件列表定义为 false：畸形规则宁可不命中，不可全量命中
func (e *Evaluator) Evaluate(cond *domain.Condition, snap *domain.RequestSnapshot) bool {
	if cond == nil || snap == nil {
		return false
	}

	// 组合节点
	if !cond.IsLeaf() {
		return e.evalCombinator(cond, snap)
	}

	// 既无子条件也无字段的节点视为畸形
	if cond.Field == "" || cond.Operator == "" {
		return false
	}
	return e.evalLeaf(cond, snap)
}

func (e *Evaluator) evalCombinator(cond *domain.Condition, snap *domain.RequestSnapshot) bool {
	if cond.Operator == "or" {
		for i := range cond.Rules {
			if e.Evaluate(&cond.Rules[i], snap) {
				return true
			}
		}
		return false
	}

	// 默认 and 逻辑
	for i := range cond.Rules {
		if !e.Evaluate(&cond.Rules[i], snap) {
			return false
		}
	}
	return true
}

func (e *Evaluator) evalLeaf(cond *domain.Condition, snap *domain.RequestSnapshot) bool {
	requestValue := FieldValue(snap, cond.Field)
	value := stringify(cond.Value)

	switch cond.Operator {
	case domain.OpEquals:
		return requestValue == value
	case domain.OpNotEquals:
		return requestValue != value
	case domain.OpContains:
		return strings.Contains(requestValue, value)
	case domain.OpNotContains:
		return !strings.Contains(requestValue, value)
	case domain.OpStartsWith:
		return strings.HasPrefix(requestValue, value)
	case domain.OpEndsWith:
		return strings.HasSuffix(requestValue, value)
	case domain.OpRegex:
		// 远端下发的正则按对抗性输入对待：先校验再有界执行
		matched, err := e.regex.MatchString("(?i)"+value, requestValue)
		if err != nil {
			e.log.Warn("规则正则被拒绝或执行失败", "pattern", value, "field", cond.Field, "error", err.Error())
			return false
		}
		return matched
	case domain.OpIPInRange:
		return ipInRange(requestValue, value)
	case domain.OpLengthGreater:
		n, ok := toInt(cond.Value)
		return ok && len(requestValue) > n
	case domain.OpLengthLess:
		n, ok := toInt(cond.Value)
		return ok && len(requestValue) < n
	default:
		return false
	}
}

// ipInRange 判断 IP 是否命中精确地址或 CIDR 网段，非法字面量按不匹配处理
func ipInRange(ipStr, rangeStr string) bool {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return false
	}

	if strings.Contains(rangeStr, "/") {
		prefix, err := netip.ParsePrefix(rangeStr)
		if err != nil {
			return false
		}
		return prefix.Contains(addr)
	}

	target, err := netip.ParseAddr(rangeStr)
	if err != nil {
		return false
	}
	return addr == target
}

// toInt 宽容地把条件值转为整数（远端可能下发数字或数字字符串）
func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}
