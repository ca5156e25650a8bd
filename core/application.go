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
	"log"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"access/core/model"
)

const defaultSyncTimeout = 60 * time.Minute

// Application represents the core application code based on hexagonal architecture
type Application struct {
	version string
	build   string

	config *model.ApplicationConfig

	Services Services //expose to the drivers adapters

	storage       Storage
	idp           IdP
	notifications Notifications
	hooks         *HookRegistry

	nameRegex *regexp.Regexp

	scheduler       *cron.Cron
	syncInProgress  bool
	reconcilerTicks int
}

// NewApplication creates new Application
func NewApplication(version string, build string, storage Storage, idp IdP,
	notifications Notifications, hooks *HookRegistry, config *model.ApplicationConfig) *Application {
	if hooks == nil {
		hooks = NewHookRegistry()
	}

	application := Application{version: version, build: build, storage: storage,
		idp: idp, notifications: notifications, hooks: hooks, config: config}
	application.Services = &servicesImpl{app: &application}

	if config != nil && len(config.NameRegex) > 0 {
		compiled, err := regexp.Compile(config.NameRegex)
		if err != nil {
			log.Printf("invalid name regex %q - %s", config.NameRegex, err)
		} else {
			application.nameRegex = compiled
		}
	}

	return &application
}

// Start starts the core part of the application
func (app *Application) Start() {
	storageListener := storageListenerImpl{app: app}
	app.storage.RegisterStorageListener(&storageListener)

	app.setupReconcilerSchedule()
}

func (app *Application) getVersion() string {
	return app.version
}

func (app *Application) setupReconcilerSchedule() {
	interval := time.Hour
	if app.config != nil && app.config.ReconcileInterval > 0 {
		interval = app.config.ReconcileInterval
	}

	app.scheduler = cron.New()
	_, err := app.scheduler.AddFunc("@every "+interval.String(), func() {
		err := app.Reconcile(context.Background())
		if err != nil {
			log.Printf("scheduled reconcile failed - %s", err)
		}
	})
	if err != nil {
		log.Printf("error scheduling reconciler - %s", err)
		return
	}
	app.scheduler.Start()
}

// idpTask is a deferred IdP call collected during a primitive and dispatched
// after the commit
type idpTask func(ctx context.Context) error

// dispatchIdPTasks runs the collected IdP calls concurrently, joining before
// return. Failures are logged and swallowed; the reconciler converges later.
func (app *Application) dispatchIdPTasks(ctx context.Context, tasks []idpTask) {
	if len(tasks) == 0 {
		return
	}

	timeout := 30 * time.Second
	if app.config != nil && app.config.IdPCallTimeout > 0 {
		timeout = app.config.IdPCallTimeout
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			callCtx, cancel := context.WithTimeout(groupCtx, timeout)
			defer cancel()
			if err := task(callCtx); err != nil {
				log.Printf("idp call failed, reconciler will converge - %s", err)
			}
			return nil
		})
	}
	//errors are swallowed above so Wait only joins
	_ = group.Wait()
}

type storageListenerImpl struct {
	app *Application
}

// OnConfigsChanged notifies that the stored configs have been updated
func (sl *storageListenerImpl) OnConfigsChanged() {
	log.Println("storage configs changed")
}
