/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sweeper

import (
	"context"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/payment"

	"go.uber.org/zap"
)

// StaleLister finds in-flight payments that stopped moving.
type StaleLister interface {
	ListStalePayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error)
}

// Sweeper periodically expires stale INITIATED and PENDING payments so their
// reservations do not pin wallet funds forever.
type Sweeper struct {
	store        StaleLister
	orchestrator *payment.Orchestrator

	interval   time.Duration
	paymentTTL time.Duration
	batchLimit int

	stopChan chan struct{}
	doneChan chan struct{}
}

func New(st StaleLister, orchestrator *payment.Orchestrator, config models.SweepConfig) *Sweeper {
	return &Sweeper{
		store:        st,
		orchestrator: orchestrator,
		interval:     config.Interval,
		paymentTTL:   config.PaymentTTL,
		batchLimit:   config.BatchLimit,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start begins the sweep loop. An initial pass runs immediately to recover
// holds left behind by a previous crash.
func (s *Sweeper) Start(ctx context.Context) {
	zap.L().Info("Starting payment sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("payment_ttl", s.paymentTTL))
	go s.run(ctx)
}

// Stop gracefully stops the sweeper and waits for an in-progress pass.
func (s *Sweeper) Stop() {
	zap.L().Info("Stopping payment sweeper")
	close(s.stopChan)
	<-s.doneChan
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep expires one batch of stale payments. Failures on individual payments
// are logged and skipped; the next pass retries them.
func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.paymentTTL)
	stale, err := s.store.ListStalePayments(ctx, cutoff, s.batchLimit)
	if err != nil {
		zap.L().Error("Failed to list stale payments", zap.Error(err))
		return
	}
	if len(stale) == 0 {
		return
	}

	expired := 0
	for i := range stale {
		if err := s.orchestrator.Expire(ctx, &stale[i]); err != nil {
			zap.L().Error("Failed to expire stale payment",
				zap.String("payment_id", stale[i].Id),
				zap.Error(err))
			continue
		}
		expired++
	}

	zap.L().Info("Sweep pass completed",
		zap.Int("stale", len(stale)),
		zap.Int("expired", expired),
		zap.Time("cutoff", cutoff))
}
