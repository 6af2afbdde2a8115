package sqlitemk

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eunmann/mkbench/pkg/mk"
	"github.com/eunmann/mkbench/pkg/mk/mktest"
)

func newAdmin(t *testing.T) (*Admin, Config) {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "mk.db"))
	admin, err := OpenAdmin(cfg)
	if err != nil {
		t.Fatalf("OpenAdmin failed: %v", err)
	}
	t.Cleanup(func() { admin.Close() })
	if err := admin.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	return admin, cfg
}

func TestConformance(t *testing.T) {
	mktest.Run(t, func(t *testing.T) mktest.Opener {
		_, cfg := newAdmin(t)
		return func(ctx context.Context) (mk.Kernel, error) { return Open(ctx, cfg) }
	})
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	admin, _ := newAdmin(t)
	if err := admin.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema failed: %v", err)
	}
	n, err := admin.NodeCount(context.Background())
	if err != nil {
		t.Fatalf("NodeCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("NodeCount = %d, want 1 (root only)", n)
	}
}

func TestResetReturnsToInitialRevision(t *testing.T) {
	ctx := context.Background()
	admin, cfg := newAdmin(t)

	k, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer k.Close()

	if _, err := k.Commit(ctx, "/", `+"a":{"p":"v"} +"a/b":{}`, "", "seed"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := admin.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	head, err := k.HeadRevision(ctx)
	if err != nil {
		t.Fatalf("HeadRevision failed: %v", err)
	}
	if head != "r0" {
		t.Errorf("head after reset = %q, want r0", head)
	}
	n, err := admin.NodeCount(ctx)
	if err != nil {
		t.Fatalf("NodeCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("NodeCount after reset = %d, want 1", n)
	}
}

func TestDrop(t *testing.T) {
	ctx := context.Background()
	admin, cfg := newAdmin(t)
	if err := admin.Drop(ctx); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}

	k, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer k.Close()
	if _, err := k.HeadRevision(ctx); err == nil {
		t.Error("HeadRevision succeeded on dropped schema")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			cfg:     DefaultConfig("/tmp/test.db"),
			wantErr: false,
		},
		{
			name:    "empty db path",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name:    "invalid synchronous",
			cfg:     Config{DBPath: "/tmp/test.db", Synchronous: "SOMETIMES"},
			wantErr: true,
		},
		{
			name:    "negative busy timeout",
			cfg:     Config{DBPath: "/tmp/test.db", BusyTimeout: -time.Second},
			wantErr: true,
		},
		{
			name:    "negative cache size",
			cfg:     Config{DBPath: "/tmp/test.db", CacheSizeKB: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := DefaultConfig("/tmp/x.db")
	dsn := cfg.dsn()
	for _, want := range []string{"file:/tmp/x.db?", "_journal_mode=WAL", "_txlock=immediate", "_busy_timeout=30000", "_synchronous=NORMAL"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
}
