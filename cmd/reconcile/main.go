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

package main

import (
	"context"
	"flag"
	"os"

	"wallet-ledger-go/internal/common"
	"wallet-ledger-go/internal/config"

	"go.uber.org/zap"
)

// reconcile walks every wallet and verifies its balance against the signed
// sum of its posted transactions. Exits non-zero on any mismatch.
func main() {
	walletId := flag.String("wallet", "", "Optional wallet id to reconcile (default: all wallets)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()
	ledgerStore, err := common.InitializeStoreOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize store", zap.Error(err))
	}
	defer ledgerStore.Close()

	if *walletId != "" {
		if err := ledgerStore.ReconcileWallet(ctx, *walletId); err != nil {
			zap.L().Error("Reconciliation failed",
				zap.String("wallet_id", *walletId),
				zap.Error(err))
			loggerCleanup()
			os.Exit(1)
		}
		return
	}

	wallets, err := ledgerStore.ListWallets(ctx)
	if err != nil {
		zap.L().Fatal("Failed to list wallets", zap.Error(err))
	}

	mismatches := 0
	for _, wallet := range wallets {
		if err := ledgerStore.ReconcileWallet(ctx, wallet.Id); err != nil {
			zap.L().Error("Reconciliation failed",
				zap.String("wallet_id", wallet.Id),
				zap.Error(err))
			mismatches++
		}
	}

	zap.L().Info("Reconciliation run completed",
		zap.Int("wallets", len(wallets)),
		zap.Int("mismatches", mismatches))
	if mismatches > 0 {
		loggerCleanup()
		os.Exit(1)
	}
}
