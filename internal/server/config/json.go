package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/flagx"
	"github.com/dmitrijs2005/classifyd/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// Interval fields use timex.Duration, which accepts both "10s" and integer
// nanoseconds. Only keys present in the file override the current values.
type JsonConfig struct {
	EndpointAddrHTTP            *string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC            *string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                 *string         `json:"database_dsn"`
	RedisAddr                   *string         `json:"redis_addr"`
	RedisPassword               *string         `json:"redis_password"`
	RedisDB                     *int            `json:"redis_db"`
	SecretKey                   *string         `json:"secret_key"`
	SigningAlgorithm            *string         `json:"signing_algorithm"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	RateLimit                   *int            `json:"rate_limit"`
	RateWindow                  *timex.Duration `json:"rate_window"`
	MaxUploadBytes              *int64          `json:"max_upload_bytes"`
	AdmissionCeiling            *int            `json:"admission_ceiling"`
	APIKeyValidityDuration      *timex.Duration `json:"api_key_validity_duration"`
	MaxAPIKeysPerUser           *int            `json:"max_api_keys_per_user"`
	StagingBackend              *string         `json:"staging_backend"`
	StagingDir                  *string         `json:"staging_dir"`
	StagingEncryptionKey        *string         `json:"staging_encryption_key"`
	S3RootUser                  *string         `json:"s3_root_user"`
	S3RootPassword              *string         `json:"s3_root_password"`
	S3Bucket                    *string         `json:"s3_bucket"`
	S3Region                    *string         `json:"s3_region"`
	S3BaseEndpoint              *string         `json:"s3_base_endpoint"`
	ClassifierURL               *string         `json:"classifier_url"`
	ClassifyTimeout             *timex.Duration `json:"classify_timeout"`
	QueueName                   *string         `json:"queue_name"`
	WorkerID                    *string         `json:"worker_id"`
	WorkerConcurrency           *int            `json:"worker_concurrency"`
	StuckTaskDeadline           *timex.Duration `json:"stuck_task_deadline"`
	ReconcileInterval           *timex.Duration `json:"reconcile_interval"`
	TrustForwardedFor           *bool           `json:"trust_forwarded_for"`
	LogLevel                    *string         `json:"log_level"`
}

// parseJson loads configuration values from a JSON file into config.
//
// The file path comes from the -c, -config or --config flags. If none
// is set, nothing is loaded. If the file cannot be read or contains invalid
// JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.ConfigFile()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setValue(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setValue(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setValue(&config.DatabaseDSN, c.DatabaseDSN)
	setValue(&config.RedisAddr, c.RedisAddr)
	setValue(&config.RedisPassword, c.RedisPassword)
	setValue(&config.RedisDB, c.RedisDB)
	setValue(&config.SecretKey, c.SecretKey)
	setValue(&config.SigningAlgorithm, c.SigningAlgorithm)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setValue(&config.RateLimit, c.RateLimit)
	setDuration(&config.RateWindow, c.RateWindow)
	setValue(&config.MaxUploadBytes, c.MaxUploadBytes)
	setValue(&config.AdmissionCeiling, c.AdmissionCeiling)
	setDuration(&config.APIKeyValidityDuration, c.APIKeyValidityDuration)
	setValue(&config.MaxAPIKeysPerUser, c.MaxAPIKeysPerUser)
	setValue(&config.StagingBackend, c.StagingBackend)
	setValue(&config.StagingDir, c.StagingDir)
	setValue(&config.StagingEncryptionKey, c.StagingEncryptionKey)
	setValue(&config.S3RootUser, c.S3RootUser)
	setValue(&config.S3RootPassword, c.S3RootPassword)
	setValue(&config.S3Bucket, c.S3Bucket)
	setValue(&config.S3Region, c.S3Region)
	setValue(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setValue(&config.ClassifierURL, c.ClassifierURL)
	setDuration(&config.ClassifyTimeout, c.ClassifyTimeout)
	setValue(&config.QueueName, c.QueueName)
	setValue(&config.WorkerID, c.WorkerID)
	setValue(&config.WorkerConcurrency, c.WorkerConcurrency)
	setDuration(&config.StuckTaskDeadline, c.StuckTaskDeadline)
	setDuration(&config.ReconcileInterval, c.ReconcileInterval)
	setValue(&config.TrustForwardedFor, c.TrustForwardedFor)
	setValue(&config.LogLevel, c.LogLevel)
}

func setValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
