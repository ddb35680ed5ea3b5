// Package config reads runtime settings from the environment. A .env file in
// the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const prefix = "SMARTPICK_"

type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string
	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AMQPURL      string
	AMQPExchange string

	SweepInterval    time.Duration
	SweepBatch       int
	PointsPerUnit    int64
	ConfirmLimit     int
	ConfirmIPLimit   int
	BroadcastTimeout time.Duration

	// WSOrigins are the extra Origin host patterns accepted by the live
	// pickup websocket.
	WSOrigins []string

	BackupS3Endpoint  string
	BackupS3Bucket    string
	BackupS3Region    string
	BackupS3AccessKey string
	BackupS3SecretKey string
	BackupPassphrase  string
	BackupInterval    time.Duration
	BackupRetention   time.Duration

	// Warnings lists values that were invalid and replaced by defaults.
	// They are logged once logging is configured.
	Warnings []string
}

// Load loads the optional .env file and reads the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment without touching .env.
func FromEnv() (*Config, error) {
	c := &Config{
		Port:          getEnv("PORT", "8080"),
		DBPath:        getEnv("DB_PATH", "smartpick.db"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		AMQPURL:       getEnv("AMQP_URL", ""),
		AMQPExchange:  getEnv("AMQP_EXCHANGE", "smartpick.events"),

		BackupS3Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupS3Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
		BackupS3Region:    getEnv("BACKUP_S3_REGION", "auto"),
		BackupS3AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
		BackupS3SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
		BackupPassphrase:  getEnv("BACKUP_PASSPHRASE", ""),
	}
	c.RedisDB = c.intEnv("REDIS_DB", 0, 0)
	c.SweepInterval = c.durationEnv("SWEEP_INTERVAL", time.Minute)
	c.SweepBatch = c.intEnv("SWEEP_BATCH", 200, 1)
	c.PointsPerUnit = int64(c.intEnv("POINTS_PER_UNIT", 1, 1))
	c.ConfirmLimit = c.intEnv("CONFIRM_LIMIT", 30, 1)
	c.ConfirmIPLimit = c.intEnv("CONFIRM_IP_LIMIT", 120, 1)
	c.BroadcastTimeout = c.durationEnv("BROADCAST_TIMEOUT", 2*time.Second)
	c.WSOrigins = listEnv("WS_ORIGINS")
	c.BackupInterval = c.durationEnv("BACKUP_INTERVAL", 24*time.Hour)
	c.BackupRetention = c.durationEnv("BACKUP_RETENTION", 30*24*time.Hour)

	if c.BackupS3Bucket != "" && c.BackupPassphrase == "" {
		c.Warnings = append(c.Warnings, prefix+"BACKUP_S3_BUCKET is set without "+prefix+"BACKUP_PASSPHRASE, snapshots are disabled")
	}

	if c.JWTSecret == "" {
		return nil, errors.New(prefix + "JWT_SECRET is required")
	}
	return c, nil
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(prefix + key); ok && val != "" {
		return val
	}
	return defaultVal
}

// listEnv splits a comma-separated value, dropping blank entries.
func listEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(prefix+key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c *Config) intEnv(key string, defaultVal, minVal int) int {
	val, ok := os.LookupEnv(prefix + key)
	if !ok || val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < minVal {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s%s=%q is invalid, using %d", prefix, key, val, defaultVal))
		return defaultVal
	}
	return i
}

func (c *Config) durationEnv(key string, defaultVal time.Duration) time.Duration {
	val, ok := os.LookupEnv(prefix + key)
	if !ok || val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s%s=%q is invalid, using %s", prefix, key, val, defaultVal))
		return defaultVal
	}
	return d
}
