// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/xcherryio/flowengine/common/isoduration"
	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		// Log is the logging config
		Log Logger `yaml:"log"`

		// Database is the database that the engine persists executions, jobs,
		// event subscriptions and incidents into
		Database DatabaseConfig `yaml:"database"`

		// JobExecutor is the config for acquiring and executing jobs
		JobExecutor JobExecutorConfig `yaml:"jobExecutor"`

		// ApiService is config for the public REST API, disabled when its address is empty
		ApiService ApiServiceConfig `yaml:"apiService"`

		// AsyncService is config for async service
		AsyncService AsyncServiceConfig `yaml:"asyncService"`
	}

	ApiServiceConfig struct {
		// HttpServer is the config for starting a http.Server
		HttpServer HttpServerConfig `yaml:"httpServer"`
	}

	DatabaseConfig struct {
		// SQL is the SQL database config
		SQL *SQL `yaml:"sql"`
	}

	JobExecutorConfig struct {
		// LockOwner identifies this node when locking jobs.
		// Default is hostname plus a random uuid
		LockOwner string `yaml:"lockOwner"`
		// LockDuration is how long an acquired job is leased to this node.
		// An unfinished job becomes acquirable by other nodes after the lease expires.
		// Default is 5 minutes
		LockDuration time.Duration `yaml:"lockDuration"`
		// MaxJobsPerAcquisition is the batch size of one acquisition.
		// Default is 3
		MaxJobsPerAcquisition int `yaml:"maxJobsPerAcquisition"`
		// WaitTimeMin is the wait after a partially filled batch, and the first step of the idle backoff.
		// Default is 100ms
		WaitTimeMin time.Duration `yaml:"waitTimeMin"`
		// WaitTimeMax caps the idle backoff when no jobs are found.
		// Default is 60 seconds
		WaitTimeMax time.Duration `yaml:"waitTimeMax"`
		// WaitIncreaseFactor is the multiplier of both the idle and the lock-race backoff.
		// Default is 2
		WaitIncreaseFactor float64 `yaml:"waitIncreaseFactor"`
		// BackoffTimeMin is the first step of the backoff applied when every candidate was
		// locked by another node first. Default is 50ms
		BackoffTimeMin time.Duration `yaml:"backoffTimeMin"`
		// BackoffTimeMax caps the lock-race backoff. Default is 5 seconds
		BackoffTimeMax time.Duration `yaml:"backoffTimeMax"`
		// IntervalJitter is added on top of every wait. Default is 50ms
		IntervalJitter time.Duration `yaml:"intervalJitter"`
		// PriorityRangeMin/PriorityRangeMax restrict which jobs this node acquires.
		// Both bounds are inclusive, nil means unbounded.
		PriorityRangeMin *int64 `yaml:"priorityRangeMin"`
		PriorityRangeMax *int64 `yaml:"priorityRangeMax"`
		// ProcessorConcurrency is the number of goroutines executing jobs.
		// Default is 10
		ProcessorConcurrency int `yaml:"processorConcurrency"`
		// ProcessorBufferSize is the number of acquired jobs that may wait for a free goroutine.
		// Acquisition pauses while the buffer is full. Default is 100
		ProcessorBufferSize int `yaml:"processorBufferSize"`
		// DefaultRetries is the number of attempts of a new job. Default is 3
		DefaultRetries int32 `yaml:"defaultRetries"`
		// DefaultRetryTimeCycle applies to failing jobs whose activity has no retry cycle,
		// e.g. R3/PT10S. Empty means retrying immediately.
		DefaultRetryTimeCycle string `yaml:"defaultRetryTimeCycle"`
		// MaxExceptionStacktraceSize caps the stacktrace stored on a failed job.
		// Default is 4000 bytes
		MaxExceptionStacktraceSize int `yaml:"maxExceptionStacktraceSize"`
		// MaxExceptionMessageSize caps the exception message stored on a failed job and its incident.
		// Default is 1000 bytes
		MaxExceptionMessageSize int `yaml:"maxExceptionMessageSize"`
		// HistoryCleanupCycle enables the history cleanup job when set, e.g. R/PT1H
		HistoryCleanupCycle string `yaml:"historyCleanupCycle"`
		// HistoryCleanupBatchSize is the max number of ended process instances removed per run.
		// Default is 100
		HistoryCleanupBatchSize int `yaml:"historyCleanupBatchSize"`
		// HintRateLimit is the max number of acquisition wake ups per second caused by new job hints.
		// Default is 50
		HintRateLimit float64 `yaml:"hintRateLimit"`
	}

	AsyncServiceConfig struct {
		// Mode is the mode of async service, standalone or cluster
		Mode AsyncServiceMode `yaml:"mode"`
		// InternalHttpServer is the config for starting a http.Server
		// to serve the job hint and job management APIs
		InternalHttpServer HttpServerConfig `yaml:"internalHttpServer"`
		// ClientAddress is the address for other nodes to call this node's internal API
		ClientAddress string `yaml:"clientAddress"`
		// Membership is required in cluster mode
		Membership *MembershipConfig `yaml:"membership"`
		// Pulsar optionally broadcasts new job hints through a pulsar topic
		Pulsar *PulsarConfig `yaml:"pulsar"`
	}

	MembershipConfig struct {
		// BindAddress is the host:port that memberlist listens on
		BindAddress string `yaml:"bindAddress"`
		// AdvertiseAddress is the host:port that other members reach this node with
		AdvertiseAddress string `yaml:"advertiseAddress"`
		// AdvertiseAddressToJoin is any existing member to join, empty for the first node
		AdvertiseAddressToJoin string `yaml:"advertiseAddressToJoin"`
	}

	PulsarConfig struct {
		URL string `yaml:"url"`
		// Topic carries new job hints
		Topic string `yaml:"topic"`
		// SubscriptionPrefix is combined with the lock owner so that every node receives every hint
		SubscriptionPrefix string `yaml:"subscriptionPrefix"`
		// OperationTimeout is the pulsar client operation timeout. Default is 30 seconds
		OperationTimeout time.Duration `yaml:"operationTimeout"`
	}

	// HttpServerConfig is the config that will be mapped into http.Server
	HttpServerConfig struct {
		// Address optionally specifies the TCP address for the server to listen on,
		// in the form "host:port". If empty, ":http" (port 80) is used.
		Address string `yaml:"address"`
		// ReadTimeout is the maximum duration for reading the entire
		// request, including the body.
		ReadTimeout time.Duration `yaml:"readTimeout"`
		// WriteTimeout is the maximum duration before timing out
		// writes of the response.
		WriteTimeout time.Duration `yaml:"writeTimeout"`
		// TLSConfig optionally provides a TLS configuration for use
		// by ServeTLS and ListenAndServeTLS
		TLSConfig *tls.Config `yaml:"tlsConfig"`
		// the rest are less frequently used
		ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
		IdleTimeout       time.Duration `yaml:"idleTimeout"`
		MaxHeaderBytes    int           `yaml:"maxHeaderBytes"`
	}

	AsyncServiceMode string
)

const (
	// AsyncServiceModeStandalone means new job hints only wake up the local job executor
	AsyncServiceModeStandalone AsyncServiceMode = "standalone"
	// AsyncServiceModeCluster means all the nodes form a consistent hashing ring through memberlist,
	// and new job hints of a process instance are routed to the node owning it
	AsyncServiceModeCluster AsyncServiceMode = "cluster"
)

// NewConfig returns a new decoded Config struct
func NewConfig(configPath string) (*Config, error) {
	log.Printf("Loading configFile=%v\n", configPath)

	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)

	if err := d.Decode(&config); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) ValidateAndSetDefaults() error {
	if err := c.Log.validate(); err != nil {
		return err
	}
	if c.Database.SQL == nil {
		return fmt.Errorf("sql config is required")
	}
	sql := c.Database.SQL
	if anyAbsent(sql.DatabaseName, sql.DBExtensionName) {
		return fmt.Errorf("some required configs are missing: sql.DatabaseName, sql.DBExtensionName")
	}
	if sql.RequiresNetwork() && anyAbsent(sql.ConnectAddr, sql.User) {
		return fmt.Errorf("some required configs are missing: sql.ConnectAddr, sql.User")
	}

	if err := c.JobExecutor.ValidateAndSetDefaults(); err != nil {
		return err
	}

	if c.AsyncService.Mode == "" {
		c.AsyncService.Mode = AsyncServiceModeStandalone
	}
	if c.AsyncService.Mode != AsyncServiceModeStandalone && c.AsyncService.Mode != AsyncServiceModeCluster {
		return fmt.Errorf("unsupported async service mode %v", c.AsyncService.Mode)
	}
	if c.AsyncService.Mode == AsyncServiceModeCluster {
		if c.AsyncService.Membership == nil {
			return fmt.Errorf("membership config is required in cluster mode")
		}
		if anyAbsent(c.AsyncService.Membership.BindAddress, c.AsyncService.Membership.AdvertiseAddress) {
			return fmt.Errorf("membership.bindAddress and membership.advertiseAddress are required in cluster mode")
		}
	}
	if c.AsyncService.ClientAddress == "" {
		if c.AsyncService.InternalHttpServer.Address == "" {
			return fmt.Errorf("AsyncService.InternalHttpServer.Address cannot be empty")
		}
		c.AsyncService.ClientAddress = "http://" + c.AsyncService.InternalHttpServer.Address
	}
	if pulsarCfg := c.AsyncService.Pulsar; pulsarCfg != nil {
		if anyAbsent(pulsarCfg.URL, pulsarCfg.Topic) {
			return fmt.Errorf("pulsar.url and pulsar.topic are required when pulsar is configured")
		}
		if pulsarCfg.SubscriptionPrefix == "" {
			pulsarCfg.SubscriptionPrefix = "flowengine-job-hints"
		}
		if pulsarCfg.OperationTimeout == 0 {
			pulsarCfg.OperationTimeout = 30 * time.Second
		}
	}
	return nil
}

// ValidateAndSetDefaults fills the zero values with the defaults documented on the fields
func (c *JobExecutorConfig) ValidateAndSetDefaults() error {
	if c.LockOwner == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown-host"
		}
		c.LockOwner = hostname + "-" + newLockOwnerSuffix()
	}
	if c.LockDuration == 0 {
		c.LockDuration = 5 * time.Minute
	}
	if c.MaxJobsPerAcquisition == 0 {
		c.MaxJobsPerAcquisition = 3
	}
	if c.WaitTimeMin == 0 {
		c.WaitTimeMin = 100 * time.Millisecond
	}
	if c.WaitTimeMax == 0 {
		c.WaitTimeMax = 60 * time.Second
	}
	if c.WaitIncreaseFactor == 0 {
		c.WaitIncreaseFactor = 2
	}
	if c.BackoffTimeMin == 0 {
		c.BackoffTimeMin = 50 * time.Millisecond
	}
	if c.BackoffTimeMax == 0 {
		c.BackoffTimeMax = 5 * time.Second
	}
	if c.IntervalJitter == 0 {
		c.IntervalJitter = 50 * time.Millisecond
	}
	if c.ProcessorConcurrency == 0 {
		c.ProcessorConcurrency = 10
	}
	if c.ProcessorBufferSize == 0 {
		c.ProcessorBufferSize = 100
	}
	if c.DefaultRetries == 0 {
		c.DefaultRetries = 3
	}
	if c.MaxExceptionStacktraceSize == 0 {
		c.MaxExceptionStacktraceSize = 4000
	}
	if c.MaxExceptionMessageSize == 0 {
		c.MaxExceptionMessageSize = 1000
	}
	if c.HistoryCleanupBatchSize == 0 {
		c.HistoryCleanupBatchSize = 100
	}
	if c.HintRateLimit == 0 {
		c.HintRateLimit = 50
	}

	if c.WaitTimeMin > c.WaitTimeMax {
		return fmt.Errorf("jobExecutor.waitTimeMin(%v) cannot be larger than jobExecutor.waitTimeMax(%v)", c.WaitTimeMin, c.WaitTimeMax)
	}
	if c.BackoffTimeMin > c.BackoffTimeMax {
		return fmt.Errorf("jobExecutor.backoffTimeMin(%v) cannot be larger than jobExecutor.backoffTimeMax(%v)", c.BackoffTimeMin, c.BackoffTimeMax)
	}
	if c.WaitIncreaseFactor < 1 {
		return fmt.Errorf("jobExecutor.waitIncreaseFactor must be at least 1")
	}
	if c.PriorityRangeMin != nil && c.PriorityRangeMax != nil && *c.PriorityRangeMin > *c.PriorityRangeMax {
		return fmt.Errorf("jobExecutor.priorityRangeMin cannot be larger than jobExecutor.priorityRangeMax")
	}
	if c.DefaultRetries < 0 {
		return fmt.Errorf("jobExecutor.defaultRetries cannot be negative")
	}
	if c.DefaultRetryTimeCycle != "" {
		if _, err := isoduration.ParseRetryCycle(c.DefaultRetryTimeCycle); err != nil {
			return fmt.Errorf("jobExecutor.defaultRetryTimeCycle is malformed: %w", err)
		}
	}
	if c.HistoryCleanupCycle != "" {
		if _, err := isoduration.ParseRepeatingInterval(c.HistoryCleanupCycle); err != nil {
			return fmt.Errorf("jobExecutor.historyCleanupCycle is malformed: %w", err)
		}
	}
	return nil
}

func anyAbsent(strs ...string) bool {
	for _, s := range strs {
		if s == "" {
			return true
		}
	}
	return false
}

// String converts the config object into a string
func (c *Config) String() string {
	out, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		panic(err)
	}
	return string(out)
}
