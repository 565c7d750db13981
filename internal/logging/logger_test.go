package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStartupLoggerSkipsEmptyResources(t *testing.T) {
	s := NewStartupLogger("studio-server").
		DynamoTable("ledger", "").
		S3Bucket("media", "studio-media").
		Endpoint("redis", "")

	if len(s.dynamoTables) != 0 {
		t.Errorf("empty table name should not be registered, got %v", s.dynamoTables)
	}
	if s.s3Buckets["media"] != "studio-media" {
		t.Errorf("s3Buckets[media] = %q, want studio-media", s.s3Buckets["media"])
	}
	if len(s.endpoints) != 0 {
		t.Errorf("empty endpoint should not be registered, got %v", s.endpoints)
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("STUDIO_TEST_VALUE", "set")
	if got := EnvOrDefault("STUDIO_TEST_VALUE", "fallback"); got != "set" {
		t.Errorf("EnvOrDefault = %q, want set", got)
	}
	if got := EnvOrDefault("STUDIO_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("EnvOrDefault = %q, want fallback", got)
	}
}
