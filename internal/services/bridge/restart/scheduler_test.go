package restart

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/registry"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/storage"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/wire"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]storage.RestartJob
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]storage.RestartJob)}
}

func (m *memStore) UpsertJob(_ context.Context, job storage.RestartJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return storage.ErrJobNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (storage.RestartJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return storage.RestartJob{}, storage.ErrJobNotFound
	}
	return job, nil
}

func (m *memStore) ListJobs(_ context.Context, idPrefix string) ([]storage.RestartJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []storage.RestartJob
	for id, job := range m.jobs {
		if len(id) >= len(idPrefix) && id[:len(idPrefix)] == idPrefix {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].NextExecution.Before(jobs[j].NextExecution) })
	return jobs, nil
}

func (m *memStore) ListDueJobs(ctx context.Context, idPrefix string, cutoff time.Time) ([]storage.RestartJob, error) {
	jobs, err := m.ListJobs(ctx, idPrefix)
	if err != nil {
		return nil, err
	}
	var due []storage.RestartJob
	for _, job := range jobs {
		if !job.NextExecution.After(cutoff) {
			due = append(due, job)
		}
	}
	return due, nil
}

func (m *memStore) SetNextExecution(_ context.Context, id string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	job.NextExecution = next
	m.jobs[id] = job
	return nil
}

type fakeConn struct {
	mu       sync.Mutex
	id       string
	writes   [][]byte
	attempts int
	err      error
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.err != nil {
		return c.err
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.writes = append(c.writes, buf)
	return nil
}

func (c *fakeConn) sentMessages(t *testing.T) []wire.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var msgs []wire.Message
	for _, raw := range c.writes {
		envelope, err := wire.ParseEnvelope(raw)
		if err != nil {
			t.Fatalf("parse sent envelope: %v", err)
		}
		var msg wire.Message
		switch name := wire.CanonicalName(envelope.GetTypeUrl()); name {
		case "ChatMessage":
			msg = &wire.ChatMessage{}
		case "GenericCommand":
			msg = &wire.GenericCommand{}
		default:
			t.Fatalf("unexpected outbound schema %q", name)
		}
		if err := msg.UnmarshalBinary(envelope.GetValue()); err != nil {
			t.Fatalf("unmarshal sent body: %v", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func newTestScheduler(store storage.JobStore, reg *registry.Service) *Scheduler {
	s := New(store, reg, Config{ChatChannelID: "chan-logs", MaxAttempts: 3, RetryBackoff: time.Millisecond})
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestScheduleOrUpdate_RejectsInvalidCron(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, registry.New())

	_, err := s.ScheduleOrUpdate(context.Background(), "ALPHA", "not a cron")
	if err == nil {
		t.Fatal("expected invalid cron expression to be rejected")
	}
	if len(store.jobs) != 0 {
		t.Fatalf("jobs persisted = %d, want 0 after rejection", len(store.jobs))
	}
}

func TestScheduleOrUpdate_UpsertsByDeterministicID(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, registry.New())
	ctx := context.Background()

	if _, err := s.ScheduleOrUpdate(ctx, "ALPHA", "*/5 * * * *"); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	job, err := s.ScheduleOrUpdate(ctx, "alpha§c", "0 4 * * *")
	if err != nil {
		t.Fatalf("second schedule: %v", err)
	}

	if len(store.jobs) != 1 {
		t.Fatalf("stored jobs = %d, want exactly 1", len(store.jobs))
	}
	if job.ID != DefaultJobIDPrefix+"ALPHA" {
		t.Fatalf("job id = %q, want %q", job.ID, DefaultJobIDPrefix+"ALPHA")
	}
	if store.jobs[job.ID].CronExpr != "0 4 * * *" {
		t.Fatalf("cron = %q, want second expression", store.jobs[job.ID].CronExpr)
	}
}

func TestStop_RemovesJobAndIsIdempotent(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, registry.New())
	ctx := context.Background()

	if _, err := s.ScheduleOrUpdate(ctx, "ALPHA", "*/5 * * * *"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Stop(ctx, "ALPHA"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	upcoming, err := s.ListUpcoming(ctx)
	if err != nil {
		t.Fatalf("list upcoming: %v", err)
	}
	if len(upcoming) != 0 {
		t.Fatalf("upcoming = %d, want 0 after stop", len(upcoming))
	}

	if err := s.Stop(ctx, "ALPHA"); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}
}

func TestListUpcoming_WindowAndPrefixStripping(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, registry.New())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	soon := storage.RestartJob{ID: DefaultJobIDPrefix + "SOON", ServerID: "SOON", CronExpr: "* * * * *", NextExecution: now.Add(10 * time.Minute)}
	late := storage.RestartJob{ID: DefaultJobIDPrefix + "LATE", ServerID: "LATE", CronExpr: "* * * * *", NextExecution: now.Add(48 * time.Hour)}
	for _, job := range []storage.RestartJob{soon, late} {
		if err := store.UpsertJob(ctx, job); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	upcoming, err := s.ListUpcoming(ctx)
	if err != nil {
		t.Fatalf("list upcoming: %v", err)
	}
	if len(upcoming) != 1 {
		t.Fatalf("upcoming = %d, want 1 inside window", len(upcoming))
	}
	if upcoming[0].ServerID != "SOON" {
		t.Fatalf("server id = %q, want prefix-stripped SOON", upcoming[0].ServerID)
	}
}

func TestExecuteOnce_CountdownThenRestartCommand(t *testing.T) {
	store := newMemStore()
	reg := registry.New()
	conn := &fakeConn{id: "conn-1"}
	reg.RegisterOrUpdate(&wire.ServerInfo{ServerID: "ALPHA"}, conn)
	s := newTestScheduler(store, reg)

	job := storage.RestartJob{ID: DefaultJobIDPrefix + "ALPHA", ServerID: "ALPHA", CronExpr: "* * * * *"}
	if err := s.executeOnce(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	msgs := conn.sentMessages(t)
	if len(msgs) != 6 {
		t.Fatalf("messages = %d, want 5 countdown notices plus restart command", len(msgs))
	}
	first, ok := msgs[0].(*wire.ChatMessage)
	if !ok {
		t.Fatalf("first message type = %T, want chat", msgs[0])
	}
	if want := "Restarting in 5s!"; first.MessageBody != want {
		t.Fatalf("first notice = %q, want %q", first.MessageBody, want)
	}
	last, ok := msgs[5].(*wire.GenericCommand)
	if !ok {
		t.Fatalf("last message type = %T, want generic command", msgs[5])
	}
	if last.DefaultCommand != "restart" {
		t.Fatalf("command = %q, want restart", last.DefaultCommand)
	}
	if last.ChannelID != "chan-logs" {
		t.Fatalf("channel = %q, want configured log channel", last.ChannelID)
	}
}

func TestExecuteOnce_MissingServerIsNonError(t *testing.T) {
	s := newTestScheduler(newMemStore(), registry.New())
	job := storage.RestartJob{ID: DefaultJobIDPrefix + "GHOST", ServerID: "GHOST", CronExpr: "* * * * *"}
	if err := s.executeOnce(context.Background(), job); err != nil {
		t.Fatalf("offline target should not error, got %v", err)
	}
}

func TestExecuteOnce_AbortsWhenServerDisconnectsMidCountdown(t *testing.T) {
	store := newMemStore()
	reg := registry.New()
	conn := &fakeConn{id: "conn-1"}
	reg.RegisterOrUpdate(&wire.ServerInfo{ServerID: "ALPHA"}, conn)
	s := newTestScheduler(store, reg)

	sleeps := 0
	s.sleep = func(context.Context, time.Duration) error {
		sleeps++
		if sleeps == 2 {
			// The server drops out after the second countdown notice.
			reg.Remove("conn-1")
		}
		return nil
	}

	job := storage.RestartJob{ID: DefaultJobIDPrefix + "ALPHA", ServerID: "ALPHA", CronExpr: "* * * * *"}
	if err := s.executeOnce(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	msgs := conn.sentMessages(t)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want only the first two countdown notices", len(msgs))
	}
	for _, msg := range msgs {
		if _, ok := msg.(*wire.GenericCommand); ok {
			t.Fatal("restart command must not be sent once the server is gone")
		}
	}
}

func TestFire_RetriesTransportFaultsUpToMaxAttempts(t *testing.T) {
	store := newMemStore()
	reg := registry.New()
	conn := &fakeConn{id: "conn-1", err: errors.New("broken pipe")}
	reg.RegisterOrUpdate(&wire.ServerInfo{ServerID: "ALPHA"}, conn)
	s := newTestScheduler(store, reg)

	// Every firing attempt fails on its first countdown notice, so the
	// write-attempt count equals the retry count.
	s.fire(context.Background(), storage.RestartJob{ID: DefaultJobIDPrefix + "ALPHA", ServerID: "ALPHA", CronExpr: "* * * * *"})

	conn.mu.Lock()
	attempts := conn.attempts
	conn.mu.Unlock()
	if attempts != 3 {
		t.Fatalf("write attempts = %d, want MaxAttempts of 3", attempts)
	}
}

func TestProcessDue_FiresAndReschedules(t *testing.T) {
	store := newMemStore()
	reg := registry.New()
	conn := &fakeConn{id: "conn-1"}
	reg.RegisterOrUpdate(&wire.ServerInfo{ServerID: "ALPHA"}, conn)
	s := newTestScheduler(store, reg)
	now := time.Date(2026, 9, 1, 12, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	job := storage.RestartJob{
		ID:            DefaultJobIDPrefix + "ALPHA",
		ServerID:      "ALPHA",
		CronExpr:      "*/5 * * * *",
		NextExecution: now.Add(-time.Second),
	}
	if err := store.UpsertJob(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	if err := s.processDue(ctx); err != nil {
		t.Fatalf("process due: %v", err)
	}

	if len(conn.sentMessages(t)) != 6 {
		t.Fatalf("messages = %d, want full firing", len(conn.writes))
	}
	stored, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if !stored.NextExecution.After(now) {
		t.Fatalf("next execution = %v, want after %v", stored.NextExecution, now)
	}
}

func TestRecoverMissed_RecomputesWithoutFiring(t *testing.T) {
	store := newMemStore()
	reg := registry.New()
	conn := &fakeConn{id: "conn-1"}
	reg.RegisterOrUpdate(&wire.ServerInfo{ServerID: "ALPHA"}, conn)
	s := newTestScheduler(store, reg)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	stale := storage.RestartJob{
		ID:            DefaultJobIDPrefix + "ALPHA",
		ServerID:      "ALPHA",
		CronExpr:      "0 4 * * *",
		NextExecution: now.Add(-8 * time.Hour),
	}
	if err := store.UpsertJob(ctx, stale); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	if err := s.recoverMissed(ctx); err != nil {
		t.Fatalf("recover missed: %v", err)
	}

	if got := len(conn.sentMessages(t)); got != 0 {
		t.Fatalf("messages = %d, want none during recovery", got)
	}
	stored, err := store.GetJob(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if !stored.NextExecution.After(now) {
		t.Fatalf("next execution = %v, want recomputed after %v", stored.NextExecution, now)
	}
}

func TestFormatDelay(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{1 * time.Second, "1s"},
		{90 * time.Second, "1m 30s"},
		{2 * time.Minute, "2m"},
	}
	for _, tc := range cases {
		if got := formatDelay(tc.d); got != tc.want {
			t.Errorf("formatDelay(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
