// Package metrics 将 ws.Hub 的运行计数导出为 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokmz/livehub/pkg/ws"
)

// Source 指标来源，*ws.Hub 满足该接口
type Source interface {
	Metrics() ws.Snapshot
}

// dropCounter 可选：暴露事件丢弃数
type dropCounter interface {
	DroppedEvents() int64
}

// Collector 每次抓取读取一次快照
type Collector struct {
	src Source

	total         *prometheus.Desc
	active        *prometheus.Desc
	rooms         *prometheus.Desc
	sent          *prometheus.Desc
	errors        *prometheus.Desc
	reconnections *prometheus.Desc
	uptime        *prometheus.Desc
	dropped       *prometheus.Desc
}

// NewCollector namespace 为指标前缀，空时使用 livehub
func NewCollector(src Source, namespace string) *Collector {
	if namespace == "" {
		namespace = "livehub"
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "ws", name), help, nil, nil)
	}
	return &Collector{
		src:           src,
		total:         desc("connections_total", "Connections admitted since start."),
		active:        desc("connections_active", "Currently registered connections."),
		rooms:         desc("rooms", "Rooms with at least one member."),
		sent:          desc("messages_sent_total", "Frames delivered to connection queues."),
		errors:        desc("errors_total", "Rejected handshakes and failed operations."),
		reconnections: desc("reconnections_total", "Subjects reconnecting within the reconnect window."),
		uptime:        desc("uptime_seconds", "Seconds since the hub was created."),
		dropped:       desc("events_dropped_total", "Lifecycle events dropped because the queue was full."),
	}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.active
	ch <- c.rooms
	ch <- c.sent
	ch <- c.errors
	ch <- c.reconnections
	ch <- c.uptime
	if _, ok := c.src.(dropCounter); ok {
		ch <- c.dropped
	}
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Metrics()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, float64(s.TotalConnections))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.ActiveConnections))
	ch <- prometheus.MustNewConstMetric(c.rooms, prometheus.GaugeValue, float64(s.Rooms))
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(s.MessagesSent))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors))
	ch <- prometheus.MustNewConstMetric(c.reconnections, prometheus.CounterValue, float64(s.Reconnections))
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, s.Uptime.Seconds())
	if d, ok := c.src.(dropCounter); ok {
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(d.DroppedEvents()))
	}
}

// NewRegistry 注册 hub 指标以及 Go 运行时与进程指标
func NewRegistry(src Source, namespace string) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		NewCollector(src, namespace),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Handler 指标抓取端点
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
