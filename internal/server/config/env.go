package config

import (
	"os"
	"strconv"
	"time"
)

// parseEnv overlays values taken from environment variables. Unset or
// unparsable variables leave the current value untouched.
func parseEnv(config *Config) {
	config.EndpointAddrHTTP = getString("HTTP_ADDR", config.EndpointAddrHTTP)
	config.EndpointAddrGRPC = getString("GRPC_ADDR", config.EndpointAddrGRPC)
	config.DatabaseDSN = getString("DATABASE_DSN", config.DatabaseDSN)
	config.RedisAddr = getString("REDIS_ADDR", config.RedisAddr)
	config.RedisPassword = getString("REDIS_PASSWORD", config.RedisPassword)
	config.RedisDB = getInt("REDIS_DB", config.RedisDB)
	config.SecretKey = getString("SECRET_KEY", config.SecretKey)
	config.SigningAlgorithm = getString("SIGNING_ALGORITHM", config.SigningAlgorithm)
	config.AccessTokenValidityDuration = getDuration("ACCESS_TOKEN_TTL", config.AccessTokenValidityDuration)
	config.RateLimit = getInt("RATE_LIMIT", config.RateLimit)
	config.RateWindow = getDuration("RATE_WINDOW", config.RateWindow)
	config.MaxUploadBytes = int64(getInt("MAX_UPLOAD_BYTES", int(config.MaxUploadBytes)))
	config.AdmissionCeiling = getInt("ADMISSION_CEILING", config.AdmissionCeiling)
	config.APIKeyValidityDuration = getDuration("API_KEY_TTL", config.APIKeyValidityDuration)
	config.MaxAPIKeysPerUser = getInt("MAX_API_KEYS_PER_USER", config.MaxAPIKeysPerUser)
	config.StagingBackend = getString("STAGING_BACKEND", config.StagingBackend)
	config.StagingDir = getString("STAGING_DIR", config.StagingDir)
	config.StagingEncryptionKey = getString("STAGING_ENCRYPTION_KEY", config.StagingEncryptionKey)
	config.S3RootUser = getString("S3_ROOT_USER", config.S3RootUser)
	config.S3RootPassword = getString("S3_ROOT_PASSWORD", config.S3RootPassword)
	config.S3Bucket = getString("S3_BUCKET", config.S3Bucket)
	config.S3Region = getString("S3_REGION", config.S3Region)
	config.S3BaseEndpoint = getString("S3_BASE_ENDPOINT", config.S3BaseEndpoint)
	config.ClassifierURL = getString("CLASSIFIER_URL", config.ClassifierURL)
	config.ClassifyTimeout = getDuration("CLASSIFY_TIMEOUT", config.ClassifyTimeout)
	config.QueueName = getString("QUEUE_NAME", config.QueueName)
	config.WorkerID = getString("WORKER_ID", config.WorkerID)
	config.WorkerConcurrency = getInt("WORKER_CONCURRENCY", config.WorkerConcurrency)
	config.StuckTaskDeadline = getDuration("STUCK_TASK_DEADLINE", config.StuckTaskDeadline)
	config.ReconcileInterval = getDuration("RECONCILE_INTERVAL", config.ReconcileInterval)
	config.TrustForwardedFor = getBool("TRUST_FORWARDED_FOR", config.TrustForwardedFor)
	config.LogLevel = getString("LOG_LEVEL", config.LogLevel)
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
