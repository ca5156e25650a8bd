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

package main

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rokwire/logging-library-go/v2/logs"

	core "access/core"
	"access/core/model"
	"access/driven/idp"
	"access/driven/notifications"
	"access/driven/smtp"
	storage "access/driven/storage"
	web "access/driver/web"
)

var (
	// Version : version of this executable
	Version string
	// Build : build date of this executable
	Build string
)

func main() {
	if len(Version) == 0 {
		Version = "dev"
	}

	serviceID := "access"
	loggerOpts := logs.LoggerOpts{
		SuppressRequests: logs.NewStandardHealthCheckHTTPRequestProperties(serviceID + "/version"),
		SensitiveHeaders: []string{"Access-Api-Key", "Authorization"},
	}
	logger := logs.NewLogger(serviceID, &loggerOpts)
	logger.Infof("Version=%s Build=%s", Version, Build)

	//mongoDB adapter
	mongoDBAuth := getEnvKey("ACCESS_MONGO_AUTH", true)
	mongoDBName := getEnvKey("ACCESS_MONGO_DATABASE", true)
	mongoTimeout := getEnvKey("ACCESS_MONGO_TIMEOUT", false)
	storageAdapter := storage.NewStorageAdapter(mongoDBAuth, mongoDBName, mongoTimeout)
	err := storageAdapter.Start()
	if err != nil {
		log.Fatal("Cannot start the mongoDB adapter - " + err.Error())
	}

	//idp adapter
	idpBaseURL := getEnvKey("ACCESS_IDP_BASE_URL", true)
	idpAPIToken := getEnvKey("ACCESS_IDP_API_TOKEN", true)
	idpAdapter := idp.NewIdPAdapter(idpBaseURL, idpAPIToken)

	//notifications adapter
	smtpHost := getEnvKey("ACCESS_SMTP_HOST", false)
	smtpPort := getEnvKey("ACCESS_SMTP_PORT", false)
	smtpUser := getEnvKey("ACCESS_SMTP_USER", false)
	smtpPassword := getEnvKey("ACCESS_SMTP_PASSWORD", false)
	smtpFrom := getEnvKey("ACCESS_SMTP_FROM", false)
	mailer := smtp.NewSMTPAdapter(smtpHost, smtpPort, smtpUser, smtpPassword, smtpFrom)

	webhookURL := getEnvKey("ACCESS_NOTIFICATIONS_WEBHOOK_URL", false)
	notificationsAdapter := notifications.NewNotificationsAdapter(webhookURL, mailer)

	config := buildConfig()

	//application
	application := core.NewApplication(Version, Build, storageAdapter, idpAdapter,
		notificationsAdapter, nil, config)
	application.Start()

	//web adapter
	port := getEnvKey("ACCESS_PORT", false)
	if len(port) == 0 {
		port = "80"
	}
	apiKeys := getAPIKeys("ACCESS_API_KEYS")
	adminAPIKeys := getAPIKeys("ACCESS_ADMIN_API_KEYS")
	webAdapter := web.NewWebAdapter(application, port, apiKeys, adminAPIKeys)
	webAdapter.Start()
}

func buildConfig() *model.ApplicationConfig {
	config := model.ApplicationConfig{
		NameRegex:      getEnvKey("ACCESS_NAME_REGEX", false),
		NameRegexError: getEnvKey("ACCESS_NAME_REGEX_ERROR", false),

		DescriptionRequired: getEnvKey("ACCESS_DESCRIPTION_REQUIRED", false) == "true",
		AuthoritativeSync:   getEnvKey("ACCESS_AUTHORITATIVE_SYNC", false) != "false",

		ReasonTemplate: getEnvKey("ACCESS_REASON_TEMPLATE", false),

		ConditionalAccessEnabled: getEnvKey("ACCESS_CONDITIONAL_ACCESS", false) == "true",

		RequestTTL:               getEnvDuration("ACCESS_REQUEST_TTL", 0),
		ExpiryNotificationWindow: getEnvDuration("ACCESS_EXPIRY_NOTIFICATION_WINDOW", 0),
		ReconcileInterval:        getEnvDuration("ACCESS_RECONCILE_INTERVAL", time.Hour),
		SyncTimeout:              getEnvDuration("ACCESS_SYNC_TIMEOUT", 0),
		IdPCallTimeout:           getEnvDuration("ACCESS_IDP_CALL_TIMEOUT", 0),
	}

	substrings := getEnvKey("ACCESS_REQUIRED_REASON_SUBSTRINGS", false)
	if len(substrings) > 0 {
		config.RequiredReasonSubstrings = strings.Split(substrings, ",")
	}

	//an optional json file overrides the environment values
	configPath := getEnvKey("ACCESS_CONFIG_PATH", false)
	if len(configPath) > 0 {
		data, err := os.ReadFile(configPath)
		if err != nil {
			log.Fatalf("Cannot read the config file %s - %s", configPath, err)
		}
		if err := json.Unmarshal(data, &config); err != nil {
			log.Fatalf("Cannot parse the config file %s - %s", configPath, err)
		}
	}

	return &config
}

func getAPIKeys(envKey string) []string {
	//get from the environment
	apiKeys := getEnvKey(envKey, true)

	//it is comma separated format
	apiKeysList := strings.Split(apiKeys, ",")
	if len(apiKeysList) <= 0 {
		log.Fatal("For some reasons the api keys list is empty")
	}

	return apiKeysList
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnvKey(key, false)
	if len(value) == 0 {
		return defaultValue
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		//plain numbers read as seconds
		seconds, numErr := strconv.Atoi(value)
		if numErr != nil {
			log.Fatalf("Invalid duration for %s - %s", key, value)
		}
		return time.Duration(seconds) * time.Second
	}
	return parsed
}

func getEnvKey(key string, required bool) string {
	//get from the environment
	value, exist := os.LookupEnv(key)
	if !exist {
		if required {
			log.Fatal("No provided environment variable for " + key)
		} else {
			log.Print("No provided environment variable for " + key)
		}
	}
	return value
}
