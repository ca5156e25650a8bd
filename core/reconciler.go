// Copyright 2022 Board of Trustees of the University of Illinois.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"access/core/model"
	"access/driven/storage"
)

const reconcileSyncKey = "reconcile"

// Reconcile runs one convergence pass: users, groups, integrity repair,
// memberships, request expiry and expiring-access notifications. It is the
// authority that heals everything the online path left behind. Overlapping
// runs are rejected through the stored sync times.
func (app *Application) Reconcile(ctx context.Context) error {
	if err := app.beginSync(reconcileSyncKey); err != nil {
		return err
	}
	defer app.finishSync(reconcileSyncKey)

	started := time.Now()
	app.reconcilerTicks++

	success := true
	steps := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"sync_users", app.syncUsers},
		{"sync_groups", app.syncGroups},
		{"repair_integrity", app.repairIntegrity},
		{"sync_memberships", app.syncMemberships},
		{"expire_requests", app.expireStaleRequests},
		{"notify_expiring", app.notifyExpiringAccess},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			log.Printf("reconcile step %s failed - %s", step.name, err)
			success = false
		}
	}

	app.hooks.observeOperation("reconcile", started, success)
	log.Printf("reconcile pass %d finished in %s", app.reconcilerTicks, time.Since(started))
	return nil
}

// beginSync claims the sync key. A stale claim older than the sync timeout is
// taken over; the previous run is presumed dead.
func (app *Application) beginSync(key string) error {
	timeout := defaultSyncTimeout
	if app.config != nil && app.config.SyncTimeout > 0 {
		timeout = app.config.SyncTimeout
	}

	var inProgress error
	transaction := func(context storage.TransactionContext) error {
		times, err := app.storage.FindSyncTimes(context, key)
		if err != nil {
			return err
		}
		if times != nil && times.StartTime != nil && times.EndTime == nil {
			if time.Since(*times.StartTime) < timeout {
				inProgress = fmt.Errorf("%s started %s ago and has not finished", key, time.Since(*times.StartTime))
				return nil
			}
			log.Printf("%s exceeded its %s timeout, taking over", key, timeout)
		}
		start := time.Now()
		return app.storage.SaveSyncTimes(context, model.SyncTimes{Key: key, StartTime: &start})
	}
	if err := app.storage.PerformTransaction(transaction); err != nil {
		return err
	}
	if inProgress != nil {
		return inProgress
	}
	app.syncInProgress = true
	return nil
}

func (app *Application) finishSync(key string) {
	app.syncInProgress = false

	times, err := app.storage.FindSyncTimes(nil, key)
	if err != nil || times == nil {
		log.Printf("error loading sync times for %s - %s", key, err)
		return
	}
	end := time.Now()
	times.EndTime = &end
	if err := app.storage.SaveSyncTimes(nil, *times); err != nil {
		log.Printf("error saving sync end time for %s - %s", key, err)
	}
}
