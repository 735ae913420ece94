package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrMiss = errors.New("key not found")

// KV 跨实例共享的键值存储（目前只用于扫描租约）
type KV interface {
	// Get 键不存在返回 ErrMiss
	Get(ctx context.Context, key string) (string, error)
	// SetNX 键不存在时写入，返回是否写入成功
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	// DeleteIf 值等于 value 时删除（只释放自己持有的租约）
	DeleteIf(ctx context.Context, key string, value string) (bool, error)
}

type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, key, value, ttl).Result()
}

var deleteIfScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *RedisKV) DeleteIf(ctx context.Context, key string, value string) (bool, error) {
	n, err := deleteIfScript.Run(ctx, r.c, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Lease 基于 SETNX 的互斥租约
type Lease struct {
	kv    KV
	key   string
	owner string
	ttl   time.Duration
}

func NewLease(kv KV, key, owner string, ttl time.Duration) *Lease {
	return &Lease{kv: kv, key: key, owner: owner, ttl: ttl}
}

// Acquire 获取成功返回 true；租约被他人持有返回 false
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	return l.kv.SetNX(ctx, l.key, l.owner, l.ttl)
}

// Holder 当前持有者；无人持有返回 ""
func (l *Lease) Holder(ctx context.Context) (string, error) {
	owner, err := l.kv.Get(ctx, l.key)
	if errors.Is(err, ErrMiss) {
		return "", nil
	}
	return owner, err
}

// Release 只释放自己持有的租约
func (l *Lease) Release(ctx context.Context) error {
	_, err := l.kv.DeleteIf(ctx, l.key, l.owner)
	return err
}
