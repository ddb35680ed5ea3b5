package config

import (
	"slices"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SMARTPICK_JWT_SECRET", "s3cret")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.Port != "8080" {
		t.Errorf("Port = %q, want %q", c.Port, "8080")
	}
	if c.DBPath != "smartpick.db" {
		t.Errorf("DBPath = %q, want %q", c.DBPath, "smartpick.db")
	}
	if c.AMQPExchange != "smartpick.events" {
		t.Errorf("AMQPExchange = %q, want %q", c.AMQPExchange, "smartpick.events")
	}
	if c.SweepInterval != time.Minute || c.SweepBatch != 200 {
		t.Errorf("sweep = %s/%d, want 1m/200", c.SweepInterval, c.SweepBatch)
	}
	if c.ConfirmLimit != 30 || c.ConfirmIPLimit != 120 {
		t.Errorf("confirm limits = %d/%d, want 30/120", c.ConfirmLimit, c.ConfirmIPLimit)
	}
	if c.BroadcastTimeout != 2*time.Second {
		t.Errorf("BroadcastTimeout = %s, want 2s", c.BroadcastTimeout)
	}
	if len(c.WSOrigins) != 0 {
		t.Errorf("WSOrigins = %v, want none", c.WSOrigins)
	}
	if len(c.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", c.Warnings)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SMARTPICK_JWT_SECRET", "s3cret")
	t.Setenv("SMARTPICK_PORT", "9090")
	t.Setenv("SMARTPICK_REDIS_ADDR", "localhost:6379")
	t.Setenv("SMARTPICK_REDIS_DB", "2")
	t.Setenv("SMARTPICK_SWEEP_INTERVAL", "30s")
	t.Setenv("SMARTPICK_POINTS_PER_UNIT", "5")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.Port != "9090" || c.RedisAddr != "localhost:6379" || c.RedisDB != 2 {
		t.Errorf("config = %+v", c)
	}
	if c.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %s, want 30s", c.SweepInterval)
	}
	if c.PointsPerUnit != 5 {
		t.Errorf("PointsPerUnit = %d, want 5", c.PointsPerUnit)
	}
}

func TestFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SMARTPICK_JWT_SECRET", "s3cret")
	t.Setenv("SMARTPICK_SWEEP_BATCH", "lots")
	t.Setenv("SMARTPICK_CONFIRM_LIMIT", "0")
	t.Setenv("SMARTPICK_BROADCAST_TIMEOUT", "-1s")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.SweepBatch != 200 || c.ConfirmLimit != 30 || c.BroadcastTimeout != 2*time.Second {
		t.Errorf("config = %+v, want defaults", c)
	}
	if len(c.Warnings) != 3 {
		t.Errorf("Warnings = %v, want 3", c.Warnings)
	}
}

func TestFromEnvRequiresSecret(t *testing.T) {
	t.Setenv("SMARTPICK_JWT_SECRET", "")
	if _, err := FromEnv(); err == nil {
		t.Error("expected error without JWT secret")
	}
}

func TestFromEnvBackupSettings(t *testing.T) {
	t.Setenv("SMARTPICK_JWT_SECRET", "s3cret")
	t.Setenv("SMARTPICK_BACKUP_S3_BUCKET", "snapshots")
	t.Setenv("SMARTPICK_BACKUP_INTERVAL", "6h")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.BackupS3Bucket != "snapshots" || c.BackupS3Region != "auto" {
		t.Errorf("bucket/region = %q/%q, want snapshots/auto", c.BackupS3Bucket, c.BackupS3Region)
	}
	if c.BackupInterval != 6*time.Hour || c.BackupRetention != 30*24*time.Hour {
		t.Errorf("interval/retention = %s/%s, want 6h/720h", c.BackupInterval, c.BackupRetention)
	}
	if len(c.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one about the missing passphrase", c.Warnings)
	}
}

func TestFromEnvWSOrigins(t *testing.T) {
	t.Setenv("SMARTPICK_JWT_SECRET", "s3cret")
	t.Setenv("SMARTPICK_WS_ORIGINS", " app.smartpick.ge, ,*.partners.smartpick.ge,")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	want := []string{"app.smartpick.ge", "*.partners.smartpick.ge"}
	if !slices.Equal(c.WSOrigins, want) {
		t.Errorf("WSOrigins = %q, want %q", c.WSOrigins, want)
	}
}
