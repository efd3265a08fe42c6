// Package collect 实现运行环境数据的定期采集
package collect

import (
	"context"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/CyBearCare/cybear-go/internal/remote"
)

// Collector 单个采集器
type Collector interface {
	// Name 采集类型名，作为上报负载中 collectors 的键
	Name() string
	// Collect 执行一次采集，返回可 JSON 序列化的负载
	Collect(ctx context.Context) (any, error)
}

// RuntimeCollector 采集 Go 运行时指标
type RuntimeCollector struct{}

func (RuntimeCollector) Name() string { return "runtime" }

func (RuntimeCollector) Collect(context.Context) (any, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return map[string]any{
		"go_version":    runtime.Version(),
		"num_cpu":       runtime.NumCPU(),
		"num_goroutine": runtime.NumGoroutine(),
		"heap_alloc":    mem.HeapAlloc,
		"heap_sys":      mem.HeapSys,
		"gc_cycles":     mem.NumGC,
		"gc_pause_ns":   mem.PauseTotalNs,
		"agent_version": remote.Version,
	}, nil
}

// EnvironmentCollector 采集部署环境概况
// 只取固定的非敏感键，绝不整表导出环境变量
type EnvironmentCollector struct{}

func (EnvironmentCollector) Name() string { return "environment" }

func (EnvironmentCollector) Collect(context.Context) (any, error) {
	hostname, _ := os.Hostname()

	return map[string]any{
		"hostname": hostname,
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"pid":      os.Getpid(),
		"app_env":  os.Getenv("APP_ENV"),
	}, nil
}

// DependencyCollector 采集构建信息中的依赖清单
// 供平台核对已知漏洞版本
type DependencyCollector struct{}

func (DependencyCollector) Name() string { return "dependencies" }

func (DependencyCollector) Collect(context.Context) (any, error) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return map[string]any{"available": false}, nil
	}

	deps := make([]map[string]string, 0, len(info.Deps))
	for _, d := range info.Deps {
		dep := map[string]string{"path": d.Path, "version": d.Version}
		if d.Replace != nil {
			dep["replace"] = d.Replace.Path + "@" + d.Replace.Version
		}
		deps = append(deps, dep)
	}

	return map[string]any{
		"available":    true,
		"main_module":  info.Main.Path,
		"main_version": info.Main.Version,
		"go_version":   info.GoVersion,
		"deps":         deps,
	}, nil
}
