package audit

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/timerly-core/internal/infrastructure/config"
	"github.com/nerrad567/timerly-core/internal/infrastructure/database"
	_ "github.com/nerrad567/timerly-core/migrations"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRecord_FillsDefaults(t *testing.T) {
	repo := openTestRepo(t)
	log := &AuditLog{Action: ActionService, Target: "start_timer", Source: "api"}
	if err := repo.Record(context.Background(), log); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(log.ID) != len("aud-")+8 {
		t.Errorf("ID = %q", log.ID)
	}
	if log.Outcome != OutcomeOK {
		t.Errorf("Outcome = %q, want ok", log.Outcome)
	}
	if log.CreatedAt.IsZero() || log.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v", log.CreatedAt)
	}
}

func TestRecord_RequiresAction(t *testing.T) {
	repo := openTestRepo(t)
	if err := repo.Record(context.Background(), &AuditLog{Source: "api"}); err == nil {
		t.Error("Record() accepted entry without action")
	}
	if err := repo.Record(context.Background(), nil); err == nil {
		t.Error("Record() accepted nil entry")
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []AuditLog{
		{Action: ActionDeviceAdded, Target: "Kitchen", Source: "mdns", CreatedAt: base},
		{Action: ActionService, Target: "start_timer", Source: "api", CreatedAt: base.Add(time.Minute),
			Details: map[string]any{"entity_id": "timerly_kitchen"}},
		{Action: ActionService, Target: "send_alert", Source: "mqtt", CreatedAt: base.Add(2 * time.Minute),
			Outcome: OutcomeError, Error: "no devices"},
		{Action: ActionDeviceRemoved, Target: "Kitchen", Source: "api", CreatedAt: base.Add(3 * time.Minute)},
	}
	for i := range entries {
		if err := repo.Record(ctx, &entries[i]); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		total   int
		targets []string
	}{
		{"all newest first", Filter{}, 4, []string{"Kitchen", "send_alert", "start_timer", "Kitchen"}},
		{"by action", Filter{Action: ActionService}, 2, []string{"send_alert", "start_timer"}},
		{"by source", Filter{Source: "api"}, 2, []string{"Kitchen", "start_timer"}},
		{"by target", Filter{Target: "Kitchen"}, 2, []string{"Kitchen", "Kitchen"}},
		{"paged", Filter{Limit: 1, Offset: 1}, 4, []string{"send_alert"}},
		{"no match", Filter{Action: ActionTimerType}, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Logs) != len(tt.targets) {
				t.Fatalf("len(Logs) = %d, want %d", len(res.Logs), len(tt.targets))
			}
			for i, want := range tt.targets {
				if res.Logs[i].Target != want {
					t.Errorf("Logs[%d].Target = %q, want %q", i, res.Logs[i].Target, want)
				}
			}
		})
	}

	res, err := repo.List(ctx, Filter{Action: ActionService, Source: "mqtt"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	got := res.Logs[0]
	if got.Outcome != OutcomeError || got.Error != "no devices" {
		t.Errorf("failed call = %+v", got)
	}
	if !got.CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}

	res, _ = repo.List(ctx, Filter{Source: "api", Action: ActionService})
	if res.Logs[0].Details["entity_id"] != "timerly_kitchen" {
		t.Errorf("Details = %v", res.Logs[0].Details)
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := openTestRepo(t)
	tests := []struct {
		in, want int
	}{
		{0, defaultLimit},
		{-5, defaultLimit},
		{1000, maxLimit},
		{10, 10},
	}
	for _, tt := range tests {
		res, err := repo.List(context.Background(), Filter{Limit: tt.in, Offset: -1})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Limit != tt.want || res.Offset != 0 {
			t.Errorf("Limit %d -> %d/%d, want %d/0", tt.in, res.Limit, res.Offset, tt.want)
		}
		if res.Logs == nil {
			t.Error("Logs is nil, want empty slice")
		}
	}
}

func TestPrune(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	old := &AuditLog{Action: ActionService, Source: "api", CreatedAt: now.Add(-8 * 24 * time.Hour)}
	recent := &AuditLog{Action: ActionService, Source: "api", CreatedAt: now.Add(-time.Hour)}
	for _, l := range []*AuditLog{old, recent} {
		if err := repo.Record(ctx, l); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := repo.Prune(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	res, _ := repo.List(ctx, Filter{})
	if res.Total != 1 || res.Logs[0].ID != recent.ID {
		t.Errorf("remaining = %+v", res.Logs)
	}
}
