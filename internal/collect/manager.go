package collect

import (
	"context"

	"github.com/CyBearCare/cybear-go/internal/logger"
	"github.com/CyBearCare/cybear-go/internal/storage/repo"
)

// Manager 采集管理器
// 采集结果只落本地缓冲表，上报由传输管道独立完成
type Manager struct {
	events     *repo.EventRepo
	collectors []Collector
	log        logger.Logger
}

// NewManager 创建采集管理器，collectors 为空时使用内置采集器
func NewManager(events *repo.EventRepo, collectors []Collector, l logger.Logger) *Manager {
	if len(collectors) == 0 {
		collectors = []Collector{RuntimeCollector{}, EnvironmentCollector{}, DependencyCollector{}}
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Manager{events: events, collectors: collectors, log: l}
}

// Run 执行一轮采集，返回成功落盘的采集器数量
// 单个采集器失败不影响其余采集器
func (m *Manager) Run(ctx context.Context) int {
	stored := 0
	for _, c := range m.collectors {
		payload, err := c.Collect(ctx)
		if err != nil {
			m.log.Warn("采集器执行失败", "collector", c.Name(), "error", err.Error())
			continue
		}

		duplicate, err := m.events.AppendCollected(ctx, c.Name(), "agent", payload)
		if err != nil {
			m.log.Err(err, "采集数据落盘失败", "collector", c.Name())
			continue
		}
		if duplicate {
			m.log.Debug("采集内容与上次相同", "collector", c.Name())
		}
		stored++
	}
	return stored
}
