package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mediapulse/pulse/internal/config"
	"github.com/mediapulse/pulse/internal/storage/storagetest"
)

func TestStoreConfigMapsMissingKeyToErrNotSet(t *testing.T) {
	reader := storeConfig{store: storagetest.New()}

	if _, err := reader.GetConfig(context.Background(), "config:absent"); !errors.Is(err, config.ErrNotSet) {
		t.Fatalf("missing key error = %v, want config.ErrNotSet", err)
	}
}

func TestStoreConfigPassesThroughValues(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()
	if err := store.SetConfig(ctx, "config:processing.parallel.max_workers", "3"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	reader := storeConfig{store: store}
	val, err := reader.GetConfig(ctx, "config:processing.parallel.max_workers")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if val != "3" {
		t.Fatalf("value = %q, want %q", val, "3")
	}
}

func TestServeRequiresDSN(t *testing.T) {
	t.Setenv("PULSE_STORE_DSN", "")
	cfgFile = ""

	err := serve(context.Background())
	if err == nil || !strings.Contains(err.Error(), "store.dsn") {
		t.Fatalf("serve error = %v, want the store.dsn requirement", err)
	}
}
