package bundle

import (
	"context"
	"errors"
	"time"

	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/logger"
)

// BundleSender relay 的 sendBundle
type BundleSender interface {
	SendBundle(ctx context.Context, txs []string) (string, error)
}

const submitAttempts = 2

var errEmptyBundleID = errors.New("relay returned empty bundle id")

// Submitter 提交 bundle，失败或返回空 id 时重试一次
type Submitter struct {
	sender    BundleSender
	clock     Clock
	retryWait time.Duration
}

func NewSubmitter(sender BundleSender, clock Clock, retryWait time.Duration) *Submitter {
	if clock == nil {
		clock = RealClock
	}
	return &Submitter{sender: sender, clock: clock, retryWait: retryWait}
}

// Submit 返回 relay 分配的 bundle id。两次连续失败返回 CodeSubmission。
func (s *Submitter) Submit(ctx context.Context, txs []string) (string, error) {
	if len(txs) == 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "empty bundle", xerrors.WithStage(xerrors.StageSubmission))
	}

	var lastErr error
	for attempt := 1; attempt <= submitAttempts; attempt++ {
		id, err := s.sender.SendBundle(ctx, txs)
		if err == nil && id != "" {
			logger.Infof("[Submitter] bundle 已提交: id=%s txs=%d attempt=%d", id, len(txs), attempt)
			return id, nil
		}
		if err == nil {
			err = errEmptyBundleID
		}
		lastErr = err
		logger.Warnf("[Submitter] 第 %d 次提交失败: %v", attempt, err)

		if attempt == submitAttempts {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if s.retryWait > 0 {
			select {
			case <-ctx.Done():
				return "", xerrors.Wrap(xerrors.CodeSubmission, ctx.Err(), "submission aborted")
			case <-s.clock.After(s.retryWait):
			}
		}
	}
	return "", xerrors.Wrap(xerrors.CodeSubmission, lastErr, "bundle submission failed",
		xerrors.WithMetadata("attempts", submitAttempts))
}
