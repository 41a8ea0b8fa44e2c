package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ligun0805/wallet-recovery/internal/relay"
)

// startPoller replaces any running poller with one bound to bundleID.
func (m *Machine) startPoller(bundleID string, txs []string) {
	m.stopPoller()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.pollCancel, m.pollDone, m.pollErr = cancel, done, nil
	m.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		m.poll(ctx, bundleID, txs)
	}()
}

// stopPoller cancels the running poller without waiting for it; a cancelled
// poller never writes to the session.
func (m *Machine) stopPoller() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
}

// current reports whether the poller of bundleID still owns the session. m.mu must be held.
func (m *Machine) current(ctx context.Context, bundleID string) bool {
	return ctx.Err() == nil && m.sess.BundleID == bundleID && m.status == StatusListenBundle
}

func (m *Machine) poll(ctx context.Context, bundleID string, txs []string) {
	log := m.log.With(zap.String("bundleId", bundleID))
	for attempt := 1; ; attempt++ {
		height, err := m.deps.Chain.BlockNumber(ctx)
		if err != nil {
			m.endPoll(ctx, bundleID, StatusInitial, fmt.Errorf("block number: %w", err))
			return
		}

		m.mu.Lock()
		if !m.current(ctx, bundleID) {
			m.mu.Unlock()
			return
		}
		m.sess.AttemptedBlock = height + 2
		if err := m.persistLocked(ctx); err != nil {
			log.Warn("persist attempted block", zap.Error(err))
		}
		m.mu.Unlock()

		resp, err := m.deps.Relay.Relay(ctx, txs)
		if err != nil {
			m.endPoll(ctx, bundleID, StatusInitial, fmt.Errorf("relay: %w", err))
			return
		}
		outcome := resp.Classify()
		log.Info("relay round", zap.Int("attempt", attempt), zap.Uint64("attemptedBlock", height+2), zap.Stringer("outcome", outcome))

		switch outcome {
		case relay.OutcomeIncluded:
			m.endPoll(ctx, bundleID, StatusSuccess, nil)
			return
		case relay.OutcomeBlockPassedWithoutInclusion:
			if m.deps.MaxPollAttempts > 0 && attempt >= m.deps.MaxPollAttempts {
				m.endPoll(ctx, bundleID, StatusListenBundle, ErrPollTimeout)
				return
			}
			if m.deps.PollInterval > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.deps.PollInterval):
				}
			}
		case relay.OutcomeAccountNonceTooHigh:
			m.endPoll(ctx, bundleID, StatusClearActivityData, fmt.Errorf("%w: %s", ErrNonceTooHigh, resp.Response))
			return
		case relay.OutcomeReverted:
			m.endPoll(ctx, bundleID, StatusInitial, fmt.Errorf("%w: %s", ErrBundleReverted, resp.Response))
			return
		default:
			m.endPoll(ctx, bundleID, StatusInitial, fmt.Errorf("%w: %s", ErrUnexpected, resp.Response))
			return
		}
	}
}

// endPoll applies the final outcome of a poller that still owns the session.
func (m *Machine) endPoll(ctx context.Context, bundleID string, next Status, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(ctx, bundleID) {
		return
	}
	m.pollErr = cause
	switch {
	case next == StatusSuccess:
		m.sess.LastError = ""
		if err := m.moveLocked(ctx, StatusSuccess); err != nil {
			m.log.Error("persist success", zap.Error(err))
		}
	case errors.Is(cause, ErrPollTimeout):
		m.sess.LastError = cause.Error()
		if err := m.persistLocked(ctx); err != nil {
			m.log.Error("persist poll timeout", zap.Error(err))
		}
	default:
		m.failLocked(ctx, next, cause)
	}
}
