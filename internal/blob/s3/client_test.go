package s3blob

import (
	"context"
	"testing"

	appconfig "github.com/alanyoungcy/polyclaw/internal/config"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://e2.example.com", false, "https://e2.example.com"},
		{"http://localhost:9000", true, "http://localhost:9000"},
		{"localhost:9000", false, "http://localhost:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	if _, err := New(context.Background(), ClientConfig{Region: "us-east-1"}); err == nil {
		t.Error("expected error without bucket")
	}
	if _, err := New(context.Background(), ClientConfig{Bucket: "b"}); err == nil {
		t.Error("expected error without region")
	}
}

func TestNewWithDefaults(t *testing.T) {
	cfg := ConfigFrom(appconfig.Defaults().S3)
	cfg.AccessKey = "minio"
	cfg.SecretKey = "minio123"
	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Bucket() != "polyclaw" {
		t.Fatalf("bucket = %q", c.Bucket())
	}
	if w := NewWriter(c); w.bucket != "polyclaw" {
		t.Fatalf("writer bucket = %q", w.bucket)
	}
}
