// Package metrics Prometheus 指标（进程级注册一次）
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteCalls 远程表格调用次数，result: ok / quota / timeout / error
	RemoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smarthouse",
		Name:      "remote_calls_total",
		Help:      "Calls made to the remote tabular store, by operation and result.",
	}, []string{"op", "result"})

	// RemoteRetries 配额错误触发的重试次数
	RemoteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smarthouse",
		Name:      "remote_retries_total",
		Help:      "Retries issued after a quota error, by operation.",
	}, []string{"op"})

	// CacheRequests 集合缓存命中/未命中
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smarthouse",
		Name:      "cache_requests_total",
		Help:      "Collection cache lookups, by collection and result.",
	}, []string{"collection", "result"})

	// NotificationsEmitted 通知/审计写入结果：ok / skipped / failed
	NotificationsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smarthouse",
		Name:      "notifications_emitted_total",
		Help:      "Change notifications emitted after a mutation, by result.",
	}, []string{"result"})
)
