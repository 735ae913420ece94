// Package cache 进程内 TTL 缓存。
//
// 缓存单位是整个集合：一个快照（值 + 获取时间）整体替换，不做按行失效。
// 并发的过期读取通过 singleflight 合并为一次远程获取。
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"smarthouse-data/internal/metrics"

	"golang.org/x/sync/singleflight"
)

// Loader 全量加载函数
type Loader[T any] func(ctx context.Context) (T, error)

type snapshot[T any] struct {
	value     T
	fetchedAt time.Time
	version   uint64
}

// Value 单值 TTL 缓存（集合快照、远程会话句柄都用它）
type Value[T any] struct {
	name string
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	snap    *snapshot[T]
	version uint64

	group singleflight.Group
}

// NewValue name 仅用于指标标签
func NewValue[T any](name string, ttl time.Duration) *Value[T] {
	return &Value[T]{name: name, ttl: ttl, now: time.Now}
}

// WithClock 测试用
func (c *Value[T]) WithClock(now func() time.Time) *Value[T] {
	c.now = now
	return c
}

// Get 快照未过期直接返回，否则调用 load 并原子替换
func (c *Value[T]) Get(ctx context.Context, load Loader[T]) (T, error) {
	if v, ok := c.Peek(); ok {
		metrics.CacheRequests.WithLabelValues(c.name, "hit").Inc()
		return v, nil
	}
	metrics.CacheRequests.WithLabelValues(c.name, "miss").Inc()

	c.mu.RLock()
	startVersion := c.version
	c.mu.RUnlock()

	// key 带版本号：Invalidate 之后的读取不会并入旧的加载
	res, err, _ := c.group.Do(strconv.FormatUint(startVersion, 10), func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		// 加载期间发生了 Invalidate：结果仍返回给调用方，但不写入缓存
		if c.version == startVersion {
			c.snap = &snapshot[T]{value: v, fetchedAt: c.now(), version: c.version}
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Peek 不触发加载
func (c *Value[T]) Peek() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil || c.now().Sub(c.snap.fetchedAt) >= c.ttl {
		var zero T
		return zero, false
	}
	return c.snap.value, true
}

// Set 直接替换快照
func (c *Value[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = &snapshot[T]{value: v, fetchedAt: c.now(), version: c.version}
}

// Invalidate 同步丢弃快照；下一次 Get 一定重新加载
func (c *Value[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = nil
	c.version++
}

// Age 当前快照年龄；无快照返回 false
func (c *Value[T]) Age() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return 0, false
	}
	return c.now().Sub(c.snap.fetchedAt), true
}

// Collection 集合缓存：Value[[]T] 加过滤视图
type Collection[T any] struct {
	*Value[[]T]
}

// NewCollection 创建集合缓存
func NewCollection[T any](name string, ttl time.Duration) *Collection[T] {
	return &Collection[T]{Value: NewValue[[]T](name, ttl)}
}

// List 返回快照中满足 keep 的元素（keep 为 nil 时返回快照副本）
func (c *Collection[T]) List(ctx context.Context, load Loader[[]T], keep func(T) bool) ([]T, error) {
	all, err := c.Get(ctx, load)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(all))
	for _, item := range all {
		if keep == nil || keep(item) {
			out = append(out, item)
		}
	}
	return out, nil
}
