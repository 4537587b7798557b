package cron_test

import (
	"context"
	"testing"
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/cron"
	"github.com/conduct-dev/conduct/dispatcher"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/store/memory"
)

func newSchedulerHarness(t *testing.T) (*cron.Scheduler, *dispatcher.Dispatcher, *memory.Store) {
	t.Helper()
	s := memory.New()
	pub := event.NewPublisher(s, nil)
	disp := dispatcher.NewDispatcher(command.NewRegistry(), s, pub, nil, nil)
	sched := cron.NewScheduler(s, disp, pub, nil, nil, cron.WithTickInterval(10*time.Millisecond))
	return sched, disp, s
}

func registerReportHandler(t *testing.T, disp *dispatcher.Dispatcher) {
	t.Helper()
	err := disp.RegisterRaw("generate-report", func(context.Context, []byte) (command.Result, error) {
		return command.Result{}, nil
	})
	if err != nil {
		t.Fatalf("RegisterRaw: %v", err)
	}
}

func dueEntry(name string) *cron.Entry {
	past := time.Now().UTC().Add(-time.Minute)
	return &cron.Entry{
		Entity:      conduct.NewEntity(),
		ID:          id.NewCronID(),
		Name:        name,
		Schedule:    "@every 1h",
		CommandType: "generate-report",
		Payload:     []byte(`{"period":"daily"}`),
		Enabled:     true,
		NextRunAt:   &past,
	}
}

func TestScheduler_FiresDueEntry(t *testing.T) {
	sched, disp, s := newSchedulerHarness(t)
	ctx := context.Background()
	registerReportHandler(t, disp)

	entry := dueEntry("daily-report")
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, _ := s.CountCommands(ctx, command.CountOpts{})
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cmds, err := s.ListCommands(ctx, command.ListOpts{Type: "generate-report"})
	if err != nil {
		t.Fatalf("ListCommands: %v", err)
	}
	if len(cmds) != 1 {
		t.Fatalf("expected exactly one fired command, got %d", len(cmds))
	}
	c := cmds[0]
	if c.Actor != "cron:daily-report" {
		t.Fatalf("fired command should carry the cron actor, got %s", c.Actor)
	}
	if string(c.Payload) != `{"period":"daily"}` {
		t.Fatalf("fired command should carry the entry payload, got %s", c.Payload)
	}

	// NextRunAt advanced past the firing instant.
	got, err := s.GetCron(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now().UTC()) {
		t.Fatalf("NextRunAt should advance into the future, got %v", got.NextRunAt)
	}
	if got.LastRunAt == nil {
		t.Fatal("LastRunAt should be stamped")
	}

	events, _ := s.ListEvents(ctx, event.ListOpts{Types: []event.Type{event.EventCronFired}})
	if len(events) != 1 {
		t.Fatalf("expected one cron.fired event, got %d", len(events))
	}
}

func TestScheduler_DisabledEntryNeverFires(t *testing.T) {
	sched, disp, s := newSchedulerHarness(t)
	ctx := context.Background()
	registerReportHandler(t, disp)

	entry := dueEntry("disabled-report")
	entry.Enabled = false
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	sched.Stop(ctx)

	n, _ := s.CountCommands(ctx, command.CountOpts{})
	if n != 0 {
		t.Fatalf("disabled entry must not fire, got %d commands", n)
	}
}

// Two schedulers over the same store model two nodes. The admission key
// derived from the scheduled instant means only one node's firing inserts.
func TestScheduler_ConcurrentNodesFireOnce(t *testing.T) {
	s := memory.New()
	pub := event.NewPublisher(s, nil)
	disp := dispatcher.NewDispatcher(command.NewRegistry(), s, pub, nil, nil)
	registerReportHandler(t, disp)

	nodeA := cron.NewScheduler(s, disp, pub, nil, nil, cron.WithTickInterval(5*time.Millisecond))
	nodeB := cron.NewScheduler(s, disp, pub, nil, nil, cron.WithTickInterval(5*time.Millisecond))

	ctx := context.Background()
	if err := s.RegisterCron(ctx, dueEntry("shared-report")); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	nodeA.Start(ctx)
	nodeB.Start(ctx)
	time.Sleep(200 * time.Millisecond)
	nodeA.Stop(ctx)
	nodeB.Stop(ctx)

	n, err := s.CountCommands(ctx, command.CountOpts{})
	if err != nil {
		t.Fatalf("CountCommands: %v", err)
	}
	if n != 1 {
		t.Fatalf("the same scheduled instant must fire exactly once across nodes, got %d", n)
	}
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"0 2 * * *", "*/5 * * * *", "@every 30s", "@hourly"} {
		if _, err := cron.ParseSchedule(expr); err != nil {
			t.Errorf("ParseSchedule(%q): %v", expr, err)
		}
	}
	if _, err := cron.ParseSchedule("not a schedule"); err == nil {
		t.Error("invalid expression should fail to parse")
	}
}

func TestCronKey_DeterministicPerInstant(t *testing.T) {
	at := time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC)
	a := command.CronKey("daily-report", at)
	b := command.CronKey("daily-report", at)
	if a != b {
		t.Fatal("same entry and instant must derive the same key")
	}
	if a == command.CronKey("daily-report", at.Add(time.Hour)) {
		t.Fatal("different instants must derive different keys")
	}
	if a == command.CronKey("weekly-report", at) {
		t.Fatal("different entries must derive different keys")
	}
}
