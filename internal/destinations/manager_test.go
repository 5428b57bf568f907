package destinations

import (
	"context"
	"sync"
	"testing"

	"github.com/sessionhub/sessionhub/internal/config"
)

// fakeTailer records OnSessionStart invocations.
type fakeTailer struct {
	mu      sync.Mutex
	started []string
	replays []string
}

func (f *fakeTailer) OnSessionStart(_ context.Context, sessionID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sessionID+"@"+path)
	return nil
}

func (f *fakeTailer) RequestReplay(_ context.Context, sessionID, kind, identifier string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replays = append(f.replays, sessionID)
	return nil
}

func (f *fakeTailer) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func newTestManager(t *testing.T) (*Manager, *fakeTailer, *config.Registry) {
	t.Helper()
	registry := config.NewRegistry(t.TempDir())
	tailer := &fakeTailer{}
	return New(registry, tailer), tailer, registry
}

func TestAttach_Idempotent(t *testing.T) {
	m, tailer, _ := newTestManager(t)
	ctx := context.Background()

	attached, err := m.Attach(ctx, "S", "/logs/S.jsonl", KindSlack, "C1")
	if err != nil || !attached {
		t.Fatalf("first attach = (%v, %v), want (true, nil)", attached, err)
	}
	attached, err = m.Attach(ctx, "S", "/logs/S.jsonl", KindSlack, "C1")
	if err != nil || attached {
		t.Fatalf("second attach = (%v, %v), want (false, nil)", attached, err)
	}

	if got := len(m.GetDestinations("S")); got != 1 {
		t.Errorf("destination count = %d, want 1", got)
	}
	if tailer.startCount() != 1 {
		t.Errorf("OnSessionStart fired %d times, want 1", tailer.startCount())
	}
}

func TestAttach_FirstOnlyStartsTail(t *testing.T) {
	m, tailer, _ := newTestManager(t)
	ctx := context.Background()

	m.Attach(ctx, "S", "/logs/S.jsonl", KindSlack, "C1")
	m.Attach(ctx, "S", "", KindTelegram, "100:7")

	if tailer.startCount() != 1 {
		t.Errorf("OnSessionStart fired %d times, want 1", tailer.startCount())
	}
	if got := len(m.GetDestinations("S")); got != 2 {
		t.Errorf("destination count = %d, want 2", got)
	}
	if got := len(m.GetDestinationsByType("S", KindTelegram)); got != 1 {
		t.Errorf("telegram destinations = %d, want 1", got)
	}
}

func TestAttach_RequiresPath(t *testing.T) {
	m, _, _ := newTestManager(t)

	if _, err := m.Attach(context.Background(), "S", "", KindSlack, "C1"); err == nil {
		t.Fatal("first attach without a known path should fail")
	}
}

func TestAttach_PathFromRegistry(t *testing.T) {
	m, tailer, registry := newTestManager(t)
	ctx := context.Background()

	// A previously persisted entry supplies the path.
	if err := registry.AddDestination("S", "/logs/S.jsonl", "slack", "C0"); err != nil {
		t.Fatal(err)
	}

	attached, err := m.Attach(ctx, "S", "", KindTelegram, "100")
	if err != nil || !attached {
		t.Fatalf("attach = (%v, %v)", attached, err)
	}
	if tailer.startCount() != 1 {
		t.Error("OnSessionStart should have fired with the registry path")
	}
}

func TestAttach_UnknownKind(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Attach(context.Background(), "S", "/p", Kind("irc"), "x"); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestDetach(t *testing.T) {
	m, _, registry := newTestManager(t)
	ctx := context.Background()

	m.Attach(ctx, "S", "/logs/S.jsonl", KindSlack, "C1")

	was, err := m.Detach("S", KindSlack, "C1")
	if err != nil || !was {
		t.Fatalf("detach = (%v, %v), want (true, nil)", was, err)
	}
	was, err = m.Detach("S", KindSlack, "C1")
	if err != nil || was {
		t.Fatalf("second detach = (%v, %v), want (false, nil)", was, err)
	}
	if m.HasDestinations("S") {
		t.Error("session should have no destinations")
	}
	if _, ok := registry.Get("S"); ok {
		t.Error("registry entry should be gone after last detach")
	}
}

func TestReattachAfterEmptyFiresStartAgain(t *testing.T) {
	m, tailer, _ := newTestManager(t)
	ctx := context.Background()

	m.Attach(ctx, "S", "/logs/S.jsonl", KindSlack, "C1")
	m.Detach("S", KindSlack, "C1")
	m.Attach(ctx, "S", "/logs/S.jsonl", KindSlack, "C2")

	if tailer.startCount() != 2 {
		t.Errorf("OnSessionStart fired %d times, want 2 (restart after empty)", tailer.startCount())
	}
}

func TestRestoreFromConfig(t *testing.T) {
	dir := t.TempDir()
	registry := config.NewRegistry(dir)
	if err := registry.AddDestination("S1", "/logs/S1.jsonl", "slack", "C1"); err != nil {
		t.Fatal(err)
	}
	if err := registry.AddDestination("S1", "", "telegram", "100:7"); err != nil {
		t.Fatal(err)
	}
	if err := registry.AddDestination("S2", "/logs/S2.jsonl", "telegram", "200"); err != nil {
		t.Fatal(err)
	}

	reloaded := config.NewRegistry(dir)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	tailer := &fakeTailer{}
	m := New(reloaded, tailer)

	if err := m.RestoreFromConfig(context.Background()); err != nil {
		t.Fatalf("RestoreFromConfig() error = %v", err)
	}

	if tailer.startCount() != 2 {
		t.Errorf("OnSessionStart fired %d times, want 2", tailer.startCount())
	}
	if got := len(m.GetDestinations("S1")); got != 2 {
		t.Errorf("S1 destinations = %d, want 2", got)
	}
	if !m.HasDestinations("S2") {
		t.Error("S2 should have destinations after restore")
	}
}

func TestConcurrentFirstAttach(t *testing.T) {
	m, tailer, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	newly := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Attach(ctx, "S", "/logs/S.jsonl", KindSlack, "C1")
			if err != nil {
				t.Errorf("attach error: %v", err)
			}
			newly <- ok
		}()
	}
	wg.Wait()
	close(newly)

	wins := 0
	for ok := range newly {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("%d attaches reported newly-attached, want 1", wins)
	}
	if tailer.startCount() != 1 {
		t.Errorf("OnSessionStart fired %d times, want exactly 1", tailer.startCount())
	}
}
