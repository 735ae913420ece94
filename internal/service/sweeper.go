package service

import (
	"context"
	"time"

	"smarthouse-data/internal/repository"
	"smarthouse-data/internal/store"

	"go.uber.org/zap"
)

// SweepLockKey 多实例共用的扫描租约键
const SweepLockKey = "smarthouse:sweep:lock"

// StatusRefresher 由 repository.Repository 实现
type StatusRefresher interface {
	RefreshStatuses(ctx context.Context, actorID string) (repository.RefreshResult, error)
}

// StatusSweeper 定时把退房日期已过的人员置为 dismissed
type StatusSweeper struct {
	refresher StatusRefresher
	lease     *store.Lease // 可为 nil：单实例部署不加锁
	interval  time.Duration
	actorID   string
	logger    *zap.Logger
}

func NewStatusSweeper(refresher StatusRefresher, lease *store.Lease, interval time.Duration, actorID string, logger *zap.Logger) *StatusSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &StatusSweeper{
		refresher: refresher,
		lease:     lease,
		interval:  interval,
		actorID:   actorID,
		logger:    logger,
	}
}

// Run 启动时执行一次，之后每个周期执行；ctx 取消后返回
func (s *StatusSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Starting status sweeper", zap.Duration("interval", s.interval), zap.Bool("lease", s.lease != nil))
	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce 执行一次扫描；返回是否真正执行（租约被其他实例持有时跳过）
func (s *StatusSweeper) SweepOnce(ctx context.Context) bool {
	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			s.logger.Warn("sweep lease unavailable", zap.Error(err))
			return false
		}
		if !ok {
			holder, _ := s.lease.Holder(ctx)
			s.logger.Debug("sweep lease held by another instance", zap.String("holder", holder))
			return false
		}
		// 成功后不释放：TTL 内其他实例不再重复扫描
	}

	res, err := s.refresher.RefreshStatuses(ctx, s.actorID)
	if err != nil {
		s.logger.Error("status sweep failed", zap.Int("updated", res.UpdatedCount), zap.Error(err))
		// 失败时释放租约，让其他实例下个周期重试
		if s.lease != nil {
			if rerr := s.lease.Release(ctx); rerr != nil {
				s.logger.Warn("release sweep lease failed", zap.Error(rerr))
			}
		}
		return true
	}
	s.logger.Info("status sweep done", zap.Int("updated", res.UpdatedCount))
	return true
}
