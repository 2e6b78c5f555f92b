package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/database"
	"github.com/nerrad567/lwm2m-gateway/migrations"
)

// failingRepo rejects every write.
type failingRepo struct{}

func (failingRepo) Load(context.Context) (Subscription, error) { return Subscription{}, ErrNotFound }
func (failingRepo) Save(context.Context, Subscription) error   { return errors.New("disk full") }
func (failingRepo) Delete(context.Context) error               { return errors.New("disk full") }

func openRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCallbackStore_SetGet(t *testing.T) {
	s := NewCallbackStore(nil)
	ctx := context.Background()

	if _, ok := s.Get(); ok {
		t.Fatal("Get() on empty store reported a subscription")
	}

	want := Subscription{URL: "http://localhost:9999/cb", Headers: map[string]string{"X-Key": "1"}}
	if err := s.Set(ctx, want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok := s.Get()
	if !ok || got.URL != want.URL || got.Headers["X-Key"] != "1" {
		t.Errorf("Get() = %+v, %v", got, ok)
	}

	// Overwrite is wholesale: the old header does not survive.
	if err := s.Set(ctx, Subscription{URL: "http://other/cb", Headers: map[string]string{}}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get()
	if got.URL != "http://other/cb" || len(got.Headers) != 0 {
		t.Errorf("after overwrite Get() = %+v", got)
	}
}

func TestCallbackStore_GetReturnsCopy(t *testing.T) {
	s := NewCallbackStore(nil)
	headers := map[string]string{"a": "1"}
	if err := s.Set(context.Background(), Subscription{URL: "http://a/", Headers: headers}); err != nil {
		t.Fatal(err)
	}

	headers["a"] = "changed"
	got, _ := s.Get()
	got.Headers["b"] = "2"

	again, _ := s.Get()
	if again.Headers["a"] != "1" || len(again.Headers) != 1 {
		t.Errorf("stored headers were mutated: %v", again.Headers)
	}
}

func TestCallbackStore_Delete(t *testing.T) {
	s := NewCallbackStore(nil)
	ctx := context.Background()

	if err := s.Delete(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() on empty store error = %v, want ErrNotFound", err)
	}

	_ = s.Set(ctx, Subscription{URL: "http://a/", Headers: map[string]string{}})
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := s.Get(); ok {
		t.Error("subscription survived Delete()")
	}
}

func TestCallbackStore_RepositoryFailureKeepsState(t *testing.T) {
	s := NewCallbackStore(failingRepo{})
	ctx := context.Background()

	if err := s.Set(ctx, Subscription{URL: "http://a/", Headers: map[string]string{}}); err == nil {
		t.Fatal("Set() succeeded with a failing repository")
	}
	if _, ok := s.Get(); ok {
		t.Error("failed Set() changed the in-memory subscription")
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	if _, err := repo.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() on empty table error = %v, want ErrNotFound", err)
	}

	sub := Subscription{URL: "http://localhost:9999/cb", Headers: map[string]string{"Authorization": "Bearer x"}}
	if err := repo.Save(ctx, sub); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	sub.URL = "http://localhost:9999/cb2"
	if err := repo.Save(ctx, sub); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.URL != "http://localhost:9999/cb2" || got.Headers["Authorization"] != "Bearer x" {
		t.Errorf("Load() = %+v", got)
	}

	if err := repo.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after Delete error = %v", err)
	}
}

func TestCallbackStore_LoadRestoresPersisted(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	first := NewCallbackStore(repo)
	if err := first.Set(ctx, Subscription{URL: "http://a/cb", Headers: map[string]string{}}); err != nil {
		t.Fatal(err)
	}

	second := NewCallbackStore(repo)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got, ok := second.Get()
	if !ok || got.URL != "http://a/cb" {
		t.Errorf("restored subscription = %+v, %v", got, ok)
	}
}
