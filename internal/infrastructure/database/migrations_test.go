package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/lwm2m-gateway/migrations"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_users.up.sql":    {Data: []byte("CREATE TABLE test_users (id INTEGER PRIMARY KEY);")},
		"20260101_000000_users.down.sql":  {Data: []byte("DROP TABLE test_users;")},
		"20260102_000000_items.up.sql":    {Data: []byte("CREATE TABLE test_items (id INTEGER PRIMARY KEY);")},
		"20260103_000000_orphan.down.sql": {Data: []byte("DROP TABLE nothing;")},
		"README.md":                       {Data: []byte("not a migration")},
	}
}

func TestLoadMigrations(t *testing.T) {
	got, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Version != "20260101_000000" || got[0].Name != "users" || got[0].DownSQL == "" {
		t.Errorf("first migration = %+v", got[0])
	}
	if got[1].Version != "20260102_000000" {
		t.Errorf("second migration version = %s", got[1].Version)
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"test_users", "test_items"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %v, want 2 versions", applied)
	}

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureStops(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260101_000000_ok.up.sql":  {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"20260102_000000_bad.up.sql": {Data: []byte("CREATE TABLE;")},
	}
	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() expected error for invalid SQL")
	}

	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !applied["20260101_000000"] || applied["20260102_000000"] {
		t.Errorf("applied = %v, want only the first migration", applied)
	}
}

func TestMigrate_EmbeddedSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate(embedded) error = %v", err)
	}

	for _, table := range []string{"notification_callback", "audit_logs"} {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260118_120000_initial.up.sql", "20260118_120000", "initial", true, true},
		{"20260118_120000_initial.down.sql", "20260118_120000", "initial", false, true},
		{"20260118_120000.up.sql", "20260118_120000", "", true, true},
		{"initial.sql", "", "", false, false},
		{"20260118.up.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			v, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if v != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)", v, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
