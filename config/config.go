/*
Copyright 2025 Weave Data Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"WEAVE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"WEAVE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"WEAVE_REDIS_SKIP_TLS_VERIFY"`
}

type TypeSenseConfig struct {
	Dns string `json:"dns" envconfig:"WEAVE_TYPESENSE_DNS"`
}

// ConnectorConfig identifies this connector towards counterparties.
type ConnectorConfig struct {
	ID       string `json:"id" envconfig:"WEAVE_CONNECTOR_ID"`
	Address  string `json:"address" envconfig:"WEAVE_CONNECTOR_ADDRESS"`
	Protocol string `json:"protocol" envconfig:"WEAVE_CONNECTOR_PROTOCOL"`
}

// NegotiationConfig tunes the negotiation state machine workers.
type NegotiationConfig struct {
	BatchSize           int   `json:"batch_size" envconfig:"WEAVE_NEGOTIATION_BATCH_SIZE"`
	Workers             int   `json:"workers" envconfig:"WEAVE_NEGOTIATION_WORKERS"`
	MaxRetries          int   `json:"max_retries" envconfig:"WEAVE_NEGOTIATION_MAX_RETRIES"`
	LeaseDurationMillis int64 `json:"lease_duration_millis" envconfig:"WEAVE_NEGOTIATION_LEASE_DURATION_MILLIS"`
	PollIntervalMillis  int64 `json:"poll_interval_millis" envconfig:"WEAVE_NEGOTIATION_POLL_INTERVAL_MILLIS"`
	MaxPollMillis       int64 `json:"max_poll_millis" envconfig:"WEAVE_NEGOTIATION_MAX_POLL_MILLIS"`
	SendRetryBaseMillis int64 `json:"send_retry_base_millis" envconfig:"WEAVE_NEGOTIATION_SEND_RETRY_BASE_MILLIS"`
}

// QueueConfig names the asynq queues used for webhook fan-out and search
// indexing.
type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"WEAVE_QUEUE_WEBHOOK"`
	IndexQueue     string `json:"index_queue" envconfig:"WEAVE_QUEUE_INDEX"`
	MonitoringPort string `json:"monitoring_port" envconfig:"WEAVE_QUEUE_MONITORING_PORT"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string            `json:"project_name" envconfig:"WEAVE_PROJECT_NAME"`
	Connector    ConnectorConfig   `json:"connector"`
	DataSource   DataSourceConfig  `json:"data_source"`
	Redis        RedisConfig       `json:"redis"`
	TypeSense    TypeSenseConfig   `json:"typesense"`
	TypeSenseKey string            `json:"type_sense_key" envconfig:"WEAVE_TYPESENSE_KEY"`
	Negotiation  NegotiationConfig `json:"negotiation"`
	Queue        QueueConfig       `json:"queue"`
	Notification Notification      `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("weave", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called weave.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Weave Connector"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Connector.ID == "" {
		cnf.Connector.ID = cnf.ProjectName
	}
	if cnf.Connector.Protocol == "" {
		cnf.Connector.Protocol = "ids-multipart"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Negotiation.BatchSize <= 0 {
		cnf.Negotiation.BatchSize = 5
	}
	if cnf.Negotiation.Workers <= 0 {
		cnf.Negotiation.Workers = 1
	}
	if cnf.Negotiation.MaxRetries <= 0 {
		cnf.Negotiation.MaxRetries = 7
	}
	if cnf.Negotiation.LeaseDurationMillis <= 0 {
		cnf.Negotiation.LeaseDurationMillis = 60_000
	}
	if cnf.Negotiation.PollIntervalMillis <= 0 {
		cnf.Negotiation.PollIntervalMillis = 1_000
	}
	if cnf.Negotiation.MaxPollMillis <= 0 {
		cnf.Negotiation.MaxPollMillis = 30_000
	}
	if cnf.Negotiation.SendRetryBaseMillis <= 0 {
		cnf.Negotiation.SendRetryBaseMillis = 100
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "weave:webhook"
	}
	if cnf.Queue.IndexQueue == "" {
		cnf.Queue.IndexQueue = "weave:index"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5001"
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
