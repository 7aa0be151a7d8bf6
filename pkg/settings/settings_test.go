package settings

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/catalog/pkg/engine"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "froyo.yaml", `
certname: web-1.example.com
environment: staging
vardir: /var/lib/froyo
catalog_terminus: cache
cache_store: sqlite
network:
  timeout: 5s
  retries: 1
telemetry:
  logging:
    level: debug
`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}

	cfg := s.Config()
	if s.Certname() != "web-1.example.com" || s.Environment() != "staging" {
		t.Errorf("unexpected identity %s/%s", s.Certname(), s.Environment())
	}
	if cfg.CatalogTerminus != "cache" || cfg.CacheStore != "sqlite" {
		t.Errorf("unexpected terminus settings %s/%s", cfg.CatalogTerminus, cfg.CacheStore)
	}
	if cfg.Network.Timeout.Std() != 5*time.Second || cfg.Network.Retries != 1 {
		t.Errorf("unexpected network settings %+v", cfg.Network)
	}
	if cfg.Telemetry.Logging.Level != "debug" || cfg.Telemetry.Logging.Format != "console" {
		t.Errorf("expected file values over defaults, got %+v", cfg.Telemetry.Logging)
	}
	if s.ManifestDir() != "/var/lib/froyo/manifests" {
		t.Errorf("unexpected manifest dir %s", s.ManifestDir())
	}
	if s.ClassFile() != "/var/lib/froyo/classes.txt" {
		t.Errorf("unexpected class file %s", s.ClassFile())
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "froyo.toml", `
certname = "db-1"
environment = "production"
vardir = "/srv/froyo"
run_mode = "server"
server_manifest_dir = "/srv/manifests"
facts_ttl = "1h"

[network]
timeout = "10s"
retries = 2
`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	if s.RunMode() != engine.RunModeServer {
		t.Errorf("expected server run mode, got %s", s.RunMode())
	}
	if s.ManifestDir() != "/srv/manifests" {
		t.Errorf("expected server manifest dir, got %s", s.ManifestDir())
	}
	if s.Config().FactsTTL.Std() != time.Hour {
		t.Errorf("unexpected facts ttl %s", s.Config().FactsTTL.Std())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !engine.IsConfiguration(err) {
		t.Errorf("expected configuration error, got: %v", err)
	}
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, "froyo.ini", "certname=x")
	if _, err := Load(path); !engine.IsConfiguration(err) {
		t.Errorf("expected configuration error, got: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"FROYO_CERTNAME":         "override-1",
		"FROYO_RUN_MODE":         "server",
		"FROYO_NETWORK_RETRIES":  "5",
		"FROYO_NETWORK_TIMEOUT":  "2s",
		"FROYO_CATALOG_TERMINUS": "compiler",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Defaults()
	if err := applyEnv(&cfg, lookup); err != nil {
		t.Fatalf("failed to apply env: %v", err)
	}
	if cfg.Certname != "override-1" || cfg.RunMode != engine.RunModeServer || cfg.CatalogTerminus != "compiler" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Network.Retries != 5 || cfg.Network.Timeout.Std() != 2*time.Second {
		t.Errorf("network overrides not applied: %+v", cfg.Network)
	}
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	env := map[string]string{
		"FROYO_NETWORK_RETRIES": "many",
		"FROYO_FACTS_TTL":       "soon",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Defaults()
	err := applyEnv(&cfg, lookup)
	if !engine.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got: %v", err)
	}
	for _, name := range []string{"FROYO_NETWORK_RETRIES", "FROYO_FACTS_TTL"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("expected error to mention %s: %v", name, err)
		}
	}
}

func TestValidate_ReportsAllFailures(t *testing.T) {
	cfg := Defaults()
	cfg.Certname = ""
	cfg.CatalogTerminus = "ftp"
	cfg.CacheStore = "redis"
	cfg.Network.Retries = 50

	_, err := New(cfg)
	if !engine.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got: %v", err)
	}
	for _, field := range []string{"Certname", "CatalogTerminus", "CacheStore", "Retries"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("expected error to mention %s: %v", field, err)
		}
	}
}

func TestValidate_NetworkNeedsServer(t *testing.T) {
	cfg := Defaults()
	cfg.ServerURL = ""
	if _, err := New(cfg); err == nil || !strings.Contains(err.Error(), "server_url") {
		t.Errorf("expected server_url error, got: %v", err)
	}

	cfg.CatalogTerminus = "cache"
	if _, err := New(cfg); err != nil {
		t.Errorf("cache terminus should not need a server: %v", err)
	}
}

func TestSettings_RunModeIsConcurrentSafe(t *testing.T) {
	s, err := New(Defaults())
	if err != nil {
		t.Fatalf("failed to build settings: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.SetRunMode(engine.RunModeServer)
		}()
		go func() {
			defer wg.Done()
			_ = s.ManifestDir()
		}()
	}
	wg.Wait()

	if s.RunMode() != engine.RunModeServer {
		t.Errorf("expected server run mode, got %s", s.RunMode())
	}
	if s.Config().RunMode != engine.RunModeServer {
		t.Error("Config should reflect the current run mode")
	}
}
