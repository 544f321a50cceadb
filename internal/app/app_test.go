package app

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/cache"
	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/devicecfg"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/config"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/database"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/logging"
	"github.com/nerrad567/dispenser-core/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config.Default() error = %v", err)
	}
	cfg.Database.Path = database.MemoryPath
	cfg.InfluxDB.Enabled = false
	return cfg
}

func TestOpen_DryRun(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, testConfig(t), logging.Discard(), Options{
		Sessions: session.Static("user-1"),
		DryRun:   true,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()

	if _, ok := a.Realtime.(*devicecfg.MemoryRealtime); !ok {
		t.Errorf("Realtime = %T, want *devicecfg.MemoryRealtime", a.Realtime)
	}
	if a.Journal != nil {
		t.Error("dry run should not open a journal")
	}
	if _, ok := a.Health["database"]; !ok {
		t.Error("database missing from health checkers")
	}
	if _, ok := a.Health["realtime"]; ok {
		t.Error("in-memory realtime store should not be health checked")
	}

	mode := devicecfg.AlarmLED
	res, err := a.Configs.SaveDeviceConfig(ctx, "DEV-0001", devicecfg.Update{AlarmMode: &mode})
	if err != nil {
		t.Fatalf("SaveDeviceConfig() error = %v", err)
	}
	if res.SyncStatus != devicecfg.SyncSynced {
		t.Errorf("SyncStatus = %s, want %s", res.SyncStatus, devicecfg.SyncSynced)
	}

	got, err := a.Configs.GetDeviceConfig(ctx, "DEV-0001")
	if err != nil {
		t.Fatalf("GetDeviceConfig() error = %v", err)
	}
	if got.AlarmMode != devicecfg.AlarmLED {
		t.Errorf("AlarmMode = %s, want %s", got.AlarmMode, devicecfg.AlarmLED)
	}
}

func TestOpen_RedisBackend(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Realtime.Backend = config.RealtimeBackendRedis
	cfg.Redis.URL = "redis://" + srv.Addr() + "/0"

	a, err := Open(ctx, cfg, logging.Discard(), Options{Sessions: session.Static("user-1")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()

	checker, ok := a.Health["realtime"]
	if !ok {
		t.Fatal("realtime missing from health checkers")
	}
	if err := checker.HealthCheck(ctx); err != nil {
		t.Errorf("realtime HealthCheck() error = %v", err)
	}

	intensity := 512
	if _, err := a.Configs.SaveDeviceConfig(ctx, "DEV-0002", devicecfg.Update{LEDIntensity: &intensity}); err != nil {
		t.Fatalf("SaveDeviceConfig() error = %v", err)
	}

	doc, found, err := a.Realtime.Get(ctx, devicecfg.ConfigPath("DEV-0002"))
	if err != nil || !found {
		t.Fatalf("Realtime.Get() found = %v, err = %v", found, err)
	}
	var v int
	if err := json.Unmarshal(doc[devicecfg.FieldLEDIntensity], &v); err != nil || v != 512 {
		t.Errorf("led_intensity = %d (err %v), want 512", v, err)
	}
}

func TestOpen_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Realtime.Backend = config.RealtimeBackendRedis
	cfg.Redis.URL = "not-a-redis-url"

	a, err := Open(context.Background(), cfg, logging.Discard(), Options{})
	if err == nil {
		t.Fatal("Open() with a bad redis URL should fail")
	}
	if a != nil {
		t.Errorf("Open() returned %v alongside error %v", a, err)
	}
}

func TestOpen_RedisDownAfterDatabase(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	cfg := testConfig(t)
	cfg.Database.Path = t.TempDir() + "/dispenser.db"
	cfg.Realtime.Backend = config.RealtimeBackendRedis
	cfg.Redis.URL = "redis://" + addr + "/0"

	a, err := Open(context.Background(), cfg, logging.Discard(), Options{})
	if err == nil {
		a.Close()
		t.Fatal("Open() with redis down should fail")
	}
	if a != nil {
		t.Errorf("Open() returned an App alongside error %v", err)
	}
}

func TestClose_NilApp(t *testing.T) {
	var a *App
	if err := a.Close(); err != nil {
		t.Errorf("Close() on nil App error = %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, err := Open(context.Background(), testConfig(t), logging.Discard(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// seedStaleClaims persists claim results that expired an hour ago.
func seedStaleClaims(t *testing.T, a *App, ids ...string) {
	t.Helper()
	past := clockwork.NewFakeClockAt(time.Now().Add(-time.Hour))
	stale := claim.NewCache(time.Minute, cache.WithStore(a.KV), cache.WithClock(past))
	for _, id := range ids {
		if err := stale.Set(context.Background(), id, claim.Availability{DeviceID: id, Available: true}); err != nil {
			t.Fatalf("Set(%s) error = %v", id, err)
		}
	}
}

func persistedClaims(t *testing.T, a *App) []string {
	t.Helper()
	keys, err := a.KV.Keys(context.Background(), "")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	var claims []string
	for _, k := range keys {
		if strings.Contains(k, "claim:") {
			claims = append(claims, k)
		}
	}
	return claims
}

func TestPruneCache(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, testConfig(t), logging.Discard(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()

	seedStaleClaims(t, a, "DEV-00001", "DEV-00002")
	if err := a.ClaimCache.Set(ctx, "DEV-00003", claim.Availability{DeviceID: "DEV-00003", Available: true}); err != nil {
		t.Fatal(err)
	}
	if got := len(persistedClaims(t, a)); got != 3 {
		t.Fatalf("persisted claims = %d, want 3", got)
	}

	a.PruneCache(ctx)
	if got := persistedClaims(t, a); len(got) != 1 || !strings.HasSuffix(got[0], "DEV-00003") {
		t.Errorf("persisted claims after prune = %v, want only DEV-00003", got)
	}
}

func TestOpen_PrunesOnStartup(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Database.Path = t.TempDir() + "/dispenser.db"
	cfg.Realtime.Backend = config.RealtimeBackendRedis
	cfg.Redis.URL = "redis://" + srv.Addr() + "/0"

	first, err := Open(ctx, cfg, logging.Discard(), Options{})
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	seedStaleClaims(t, first, "DEV-00001")
	first.Close()

	second, err := Open(ctx, cfg, logging.Discard(), Options{})
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer second.Close()
	if got := persistedClaims(t, second); len(got) != 0 {
		t.Errorf("persisted claims after reopen = %v, want none", got)
	}
}

func TestRunJanitor_StopsWithContext(t *testing.T) {
	a, err := Open(context.Background(), testConfig(t), logging.Discard(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunJanitor did not return after cancel")
	}
}
