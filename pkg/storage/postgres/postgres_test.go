package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/storage"
)

func init() {
	// Configure testcontainers to use podman.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

func hasContainerRuntime() bool {
	for _, bin := range []string{"docker", "podman"} {
		if _, err := exec.LookPath(bin); err == nil {
			return true
		}
	}
	return os.Getenv("DOCKER_HOST") != ""
}

// setupTestDB starts a PostgreSQL container and returns a connected Store.
// Tests are skipped if no container runtime is available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	if !hasContainerRuntime() {
		t.Skip("neither docker nor podman found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("weiche_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container (is a container runtime running?): %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{
		DSN:            connStr,
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func makeTestRun(prefix string, offset time.Duration) *storage.Run {
	id := fmt.Sprintf("run_%s%d", prefix, time.Now().UnixNano())
	return &storage.Run{
		ID:        id,
		RequestID: "req_" + id,
		Vendor:    api.VendorOpenAI,
		Model:     "gpt-5",
		Success:   true,
		Response: &api.CanonicalResponse{
			Content:           "Berlin",
			ModelVersion:      "gpt-5-2025-08-07",
			Vendor:            api.VendorOpenAI,
			GroundedEffective: true,
			Citations: []api.Citation{
				{URL: "https://example.com/a", Domain: "example.com", Kind: api.CitationAnchored, StartIndex: 0, EndIndex: 6},
			},
			Usage:   api.Usage{InputTokens: 5, OutputTokens: 3, TotalTokens: 8},
			Latency: api.Duration(1500 * time.Millisecond),
			Success: true,
			Metadata: api.Metadata{
				api.MetaToolCallCount: 2,
				api.MetaVendorPath:    []string{"openai"},
			},
		},
		CreatedAt: time.Now().UTC().Add(offset).Truncate(time.Microsecond),
	}
}

func TestPostgres_SaveAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	run := makeTestRun("get", 0)
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}

	if got.ID != run.ID || got.RequestID != run.RequestID {
		t.Errorf("ids = %q/%q, want %q/%q", got.ID, got.RequestID, run.ID, run.RequestID)
	}
	if got.Vendor != api.VendorOpenAI || got.Model != "gpt-5" || !got.Success {
		t.Errorf("got %+v", got)
	}
	if got.ErrorKind != "" {
		t.Errorf("ErrorKind = %q, want empty", got.ErrorKind)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, run.CreatedAt)
	}

	resp := got.Response
	if resp.Content != "Berlin" || resp.ModelVersion != "gpt-5-2025-08-07" || !resp.GroundedEffective {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].Kind != api.CitationAnchored {
		t.Errorf("citations = %+v", resp.Citations)
	}
	if resp.Usage.TotalTokens != 8 || resp.Latency.Std() != 1500*time.Millisecond {
		t.Errorf("usage/latency = %+v/%v", resp.Usage, resp.Latency)
	}
	if resp.Metadata.Int(api.MetaToolCallCount) != 2 {
		t.Errorf("tool_call_count = %v", resp.Metadata[api.MetaToolCallCount])
	}
}

func TestPostgres_SaveFailedRun(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	run := makeTestRun("failed", 0)
	run.Success = false
	run.ErrorKind = api.ErrorKindGroundingRequiredFailed
	run.Response.Success = false
	run.Response.Error = api.NewGroundingRequiredFailedError(api.VendorOpenAI, "no_tool_calls")

	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.ErrorKind != api.ErrorKindGroundingRequiredFailed {
		t.Errorf("ErrorKind = %q", got.ErrorKind)
	}
	if got.Response.Error == nil || got.Response.Error.Reason != "no_tool_calls" {
		t.Errorf("response error = %+v", got.Response.Error)
	}
}

func TestPostgres_GetNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetRun(context.Background(), "run_nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_DuplicateSave(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	run := makeTestRun("dup", 0)
	store.SaveRun(ctx, run)

	err := store.SaveRun(ctx, run)
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestPostgres_HealthCheck(t *testing.T) {
	store := setupTestDB(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestPostgres_ListRuns(t *testing.T) {
	store := setupTestDB(t)
	ctx := storage.WithOwner(context.Background(), fmt.Sprintf("lister-%d", time.Now().UnixNano()))

	var ids []string
	for i := range 3 {
		run := makeTestRun("list", time.Duration(i)*time.Second)
		run.Owner = storage.Owner(ctx)
		if i == 2 {
			run.Vendor = api.VendorVertex
		}
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		ids = append(ids, run.ID)
	}

	runs, err := store.ListRuns(ctx, storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("ListRuns order = %v", runs)
	}

	vertex, err := store.ListRuns(ctx, storage.ListOptions{Vendor: api.VendorVertex})
	if err != nil {
		t.Fatalf("ListRuns(vertex) failed: %v", err)
	}
	if len(vertex) != 1 || vertex[0].ID != ids[2] {
		t.Errorf("vendor filter = %v", vertex)
	}
}

func TestPostgres_OwnerIsolation(t *testing.T) {
	store := setupTestDB(t)

	ctxA := storage.WithOwner(context.Background(), "owner-a")
	ctxB := storage.WithOwner(context.Background(), "owner-b")

	run := makeTestRun("owner", 0)
	run.Owner = "owner-a"
	store.SaveRun(ctxA, run)

	if _, err := store.GetRun(ctxA, run.ID); err != nil {
		t.Fatalf("owner A should see own run: %v", err)
	}
	if _, err := store.GetRun(ctxB, run.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Error("owner B should not see owner A's run")
	}
	if _, err := store.GetRun(context.Background(), run.ID); err != nil {
		t.Fatalf("unscoped access should see all: %v", err)
	}
}

func TestPostgres_MigrateIsIdempotent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var n int
	if err := store.pool.QueryRow(ctx, "SELECT count(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	want, _ := loadMigrations(migrationFiles)
	if n != len(want) {
		t.Errorf("schema_migrations rows = %d, want %d", n, len(want))
	}
}

func TestPostgres_ApplicationName(t *testing.T) {
	store := setupTestDB(t)

	var name string
	if err := store.pool.QueryRow(context.Background(), "SHOW application_name").Scan(&name); err != nil {
		t.Fatalf("reading application_name: %v", err)
	}
	if name != DefaultApplicationName {
		t.Errorf("application_name = %q, want %q", name, DefaultApplicationName)
	}
}
