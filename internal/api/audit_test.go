package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/nerrad567/lwm2m-gateway/internal/audit"
	"github.com/nerrad567/lwm2m-gateway/internal/auth"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/database"
	"github.com/nerrad567/lwm2m-gateway/migrations"
)

func newAuditEnv(t *testing.T, issuer *auth.Issuer) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	env := newTestEnv(t, issuer)
	env.srv.audit = audit.NewSQLiteRepository(db.DB)
	env.handler = env.srv.Handler()
	return env
}

func listAudit(t *testing.T, env *testEnv, query string, header ...string) audit.ListResult {
	t.Helper()
	rec := env.do(t, http.MethodGet, "/audit"+query, "", "", header...)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /audit status = %d: %s", rec.Code, rec.Body)
	}
	var res audit.ListResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	return res
}

func TestAudit_Disabled(t *testing.T) {
	env := newTestEnv(t, nil)
	if rec := env.do(t, http.MethodGet, "/audit", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAudit_CallbackChanges(t *testing.T) {
	env := newAuditEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/notification/callback", "application/json",
		`{"url":"http://localhost:9999/cb","headers":{}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d", rec.Code)
	}
	// Rejected bodies leave no trace.
	env.do(t, http.MethodPut, "/notification/callback", "application/json", `{"url":""}`)
	if rec := env.do(t, http.MethodDelete, "/notification/callback", "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rec.Code)
	}

	res := listAudit(t, env, "")
	if res.Total != 2 {
		t.Fatalf("Total = %d, want 2: %+v", res.Total, res.Entries)
	}
	if res.Entries[0].Action != audit.ActionCallbackDelete || res.Entries[1].Action != audit.ActionCallbackSet {
		t.Errorf("actions = %q, %q", res.Entries[0].Action, res.Entries[1].Action)
	}
	if res.Entries[1].Details["url"] != "http://localhost:9999/cb" {
		t.Errorf("details = %v", res.Entries[1].Details)
	}
	if res.Entries[1].Source == "" {
		t.Error("source not recorded")
	}

	res = listAudit(t, env, "?action="+audit.ActionCallbackSet)
	if res.Total != 1 || res.Entries[0].Action != audit.ActionCallbackSet {
		t.Errorf("filtered = %+v", res)
	}
}

func TestAudit_Logins(t *testing.T) {
	env := newAuditEnv(t, newTestIssuer(t))

	env.do(t, http.MethodPost, "/authenticate", "application/json", `{"name":"admin","secret":"nope"}`)
	token := authenticate(t, env, "admin", "admin-secret")
	bearer := []string{"Authorization", "Bearer " + token}

	rec := env.do(t, http.MethodPut, "/notification/callback", "application/json",
		`{"url":"http://localhost:9999/cb","headers":{}}`, bearer...)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d", rec.Code)
	}

	res := listAudit(t, env, "?subject=admin", bearer...)
	if res.Total != 3 {
		t.Fatalf("Total = %d, want 3: %+v", res.Total, res.Entries)
	}
	want := []string{audit.ActionCallbackSet, audit.ActionLogin, audit.ActionLoginFailed}
	for i, action := range want {
		if res.Entries[i].Action != action {
			t.Errorf("entry %d action = %q, want %q", i, res.Entries[i].Action, action)
		}
	}

	if rec := env.do(t, http.MethodGet, "/audit", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}
}

func TestAudit_BadQuery(t *testing.T) {
	env := newAuditEnv(t, nil)

	for _, q := range []string{"?limit=ten", "?offset=x"} {
		if rec := env.do(t, http.MethodGet, "/audit"+q, "", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("GET /audit%s status = %d, want 400", q, rec.Code)
		}
	}

	res := listAudit(t, env, "?limit=5000")
	if res.Limit != audit.MaxLimit || len(res.Entries) != 0 {
		t.Errorf("result = %+v", res)
	}
}
