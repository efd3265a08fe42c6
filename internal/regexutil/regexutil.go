// Package regexutil 提供带并发安全缓存与防 ReDoS 校验的正则匹配工具
//
// 规则中的正则来自远端平台，按对抗性输入对待：
// 执行前先通过嵌套量词黑名单校验，匹配时对输入长度设上限。
package regexutil

import (
	"fmt"
	"regexp"
	"sync"
)

const (
	// MaxPatternLen 模式长度上限
	MaxPatternLen = 1024
	// MaxSubjectLen 匹配输入长度上限，超出部分截断
	MaxSubjectLen = 64 << 10
)

// nestedQuantifier 检测 (x+)+ / (x*)* 这类灾难性回溯形态
var nestedQuantifier = regexp.MustCompile(`\([^()]*[+*][^()]*\)\s*[+*{]`)

// Cache 正则表达式编译缓存
// 内部使用 sync.Map 优化读多写少的并发场景
type Cache struct {
	cache sync.Map
}

// New 创建一个新的正则缓存实例
func New() *Cache {
	return &Cache{}
}

// Validate 校验模式是否允许执行，拒绝超长模式与嵌套量词形态
func Validate(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("regexutil: 空模式")
	}
	if len(pattern) > MaxPatternLen {
		return fmt.Errorf("regexutil: 模式长度 %d 超出上限 %d", len(pattern), MaxPatternLen)
	}
	if nestedQuantifier.MatchString(pattern) {
		return fmt.Errorf("regexutil: 检测到嵌套量词模式 %q", pattern)
	}
	return nil
}

// Get 获取编译后的正则表达式对象
// 缓存中已存在则直接返回，否则先校验再编译并存入缓存
func (c *Cache) Get(pattern string) (*regexp.Regexp, error) {
	if val, ok := c.cache.Load(pattern); ok {
		return val.(*regexp.Regexp), nil
	}

	if err := Validate(pattern); err != nil {
		return nil, err
	}

	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	c.cache.Store(pattern, compiled)
	return compiled, nil
}

// MatchString 对输入执行有界匹配
// 模式被拒绝或编译失败时返回错误，由调用方按不匹配处理
func (c *Cache) MatchString(pattern, s string) (bool, error) {
	re, err := c.Get(pattern)
	if err != nil {
		return false, err
	}
	if len(s) > MaxSubjectLen {
		s = s[:MaxSubjectLen]
	}
	return re.MatchString(s), nil
}
