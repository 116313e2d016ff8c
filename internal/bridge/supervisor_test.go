package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/span-bridge/internal/infrastructure/config"
	"github.com/nerrad567/span-bridge/internal/infrastructure/logging"
)

func testConfig() *config.Config {
	return &config.Config{
		Bridge: config.BridgeConfig{
			ID:             "test-bridge",
			QueueDepth:     8,
			PublishWait:    1,
			DrainGrace:     2,
			StartupTimeout: 1,
			FingerprintTTL: 60,
		},
		Rules: []config.RuleConfig{
			{Source: "a", Destination: "b", Pattern: "sensors/+/temp", Template: "bridge/a/sensors/{0}/temp"},
			{Source: "b", Destination: "a", Pattern: "commands/#", Template: "remote/commands/{0}"},
		},
	}
}

func testSupervisor(t *testing.T, cfg *config.Config, a, b *MockSession) *Supervisor {
	t.Helper()
	sup, err := NewSupervisor(SupervisorOptions{
		Config:   cfg,
		SessionA: a,
		SessionB: b,
		Logger:   logging.Default(),
	})
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}
	return sup
}

func TestNewSupervisorRejectsInvalidRules(t *testing.T) {
	cfg := testConfig()
	cfg.Rules = []config.RuleConfig{
		{Source: "a", Destination: "a", Pattern: "x/#", Template: "y/{0}"},
	}

	_, err := NewSupervisor(SupervisorOptions{
		Config:   cfg,
		SessionA: NewMockSession(),
		SessionB: NewMockSession(),
		Logger:   logging.Default(),
	})
	if !errors.Is(err, ErrSelfBridge) {
		t.Errorf("NewSupervisor() error = %v, want ErrSelfBridge", err)
	}
}

func TestSupervisorStartSubscribesRuleFilters(t *testing.T) {
	a, b := NewMockSession(), NewMockSession()
	sup := testSupervisor(t, testConfig(), a, b)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop()

	subsA := a.GetSubscriptions()
	if len(subsA) != 1 || subsA[0].Filter != "sensors/+/temp" {
		t.Errorf("endpoint a subscriptions = %v, want [sensors/+/temp]", subsA)
	}
	if subsA[0].QoS != subscribeQoS {
		t.Errorf("subscription QoS = %d, want %d", subsA[0].QoS, subscribeQoS)
	}

	subsB := b.GetSubscriptions()
	if len(subsB) != 1 || subsB[0].Filter != "commands/#" {
		t.Errorf("endpoint b subscriptions = %v, want [commands/#]", subsB)
	}
}

func TestSupervisorStartTwice(t *testing.T) {
	a, b := NewMockSession(), NewMockSession()
	sup := testSupervisor(t, testConfig(), a, b)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop()

	if err := sup.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestSupervisorReachesRunning(t *testing.T) {
	a, b := NewMockSession(), NewMockSession()
	sup := testSupervisor(t, testConfig(), a, b)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop()

	if got := sup.State(); got != StateRunning {
		t.Errorf("State() = %v, want %v", got, StateRunning)
	}
}

func TestSupervisorRunsDegradedOnStartupTimeout(t *testing.T) {
	a, b := NewMockSession(), NewMockSession()
	b.SetConnected(false)
	sup := testSupervisor(t, testConfig(), a, b)

	start := time.Now()
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop()

	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("Start() returned after %v, want it to wait out the 1s startup timeout", elapsed)
	}
	if got := sup.State(); got != StateRunning {
		t.Errorf("State() = %v, want %v (degraded is still running)", got, StateRunning)
	}
}

func TestSupervisorEndToEndForwarding(t *testing.T) {
	a, b := NewMockSession(), NewMockSession()
	sup := testSupervisor(t, testConfig(), a, b)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop()

	// Message arrives on a's subscription, should surface on b.
	a.SimulateMessage("sensors/+/temp", "sensors/kitchen/temp", []byte("21.5"), 0, false)

	waitFor(t, time.Second, func() bool { return len(b.GetPublished()) == 1 },
		"expected forwarded publish on endpoint b")

	got := b.GetPublished()[0]
	if got.Topic != "bridge/a/sensors/kitchen/temp" {
		t.Errorf("topic = %q, want bridge/a/sensors/kitchen/temp", got.Topic)
	}
	if string(got.Payload) != "21.5" {
		t.Errorf("payload = %q, want 21.5", got.Payload)
	}

	// And the reverse direction.
	b.SimulateMessage("commands/#", "commands/light/on", []byte("1"), 1, false)

	waitFor(t, time.Second, func() bool { return len(a.GetPublished()) == 1 },
		"expected forwarded publish on endpoint a")

	if got := a.GetPublished()[0]; got.Topic != "remote/commands/light/on" {
		t.Errorf("topic = %q, want remote/commands/light/on", got.Topic)
	}
}

func TestSupervisorStopClosesSessions(t *testing.T) {
	a, b := NewMockSession(), NewMockSession()
	sup := testSupervisor(t, testConfig(), a, b)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sup.Stop()

	if got := sup.State(); got != StateStopped {
		t.Errorf("State() = %v, want %v", got, StateStopped)
	}
	if !a.IsClosed() || !b.IsClosed() {
		t.Error("expected both sessions closed after Stop()")
	}

	// Stop is idempotent.
	sup.Stop()
}

func TestSupervisorDrainDeliversQueued(t *testing.T) {
	a, b := NewMockSession(), NewMockSession()
	sup := testSupervisor(t, testConfig(), a, b)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	const n = 5
	for i := 0; i < n; i++ {
		a.SimulateMessage("sensors/+/temp", "sensors/kitchen/temp", []byte{byte(i)}, 1, false)
	}

	sup.Stop()

	if got := len(b.GetPublished()); got != n {
		t.Errorf("endpoint b received %d publishes after drain, want %d", got, n)
	}
}

func TestSupervisorTracksReconnects(t *testing.T) {
	a, b := NewMockSession(), NewMockSession()
	sup := testSupervisor(t, testConfig(), a, b)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop()

	a.SetConnected(false)
	a.SetConnected(true)
	a.SetConnected(false)
	a.SetConnected(true)

	if snap := sup.Metrics().Snapshot(); snap.ReconnectsA != 2 {
		t.Errorf("ReconnectsA = %d, want 2", snap.ReconnectsA)
	}
}

func TestSupervisorHealth(t *testing.T) {
	a, b := NewMockSession(), NewMockSession()
	sup := testSupervisor(t, testConfig(), a, b)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop()

	health := sup.Health()
	if health.State != StateRunning {
		t.Errorf("health.State = %v, want %v", health.State, StateRunning)
	}
	if health.BridgeID != "test-bridge" {
		t.Errorf("health.BridgeID = %q, want test-bridge", health.BridgeID)
	}
	if !health.Healthy() {
		t.Error("expected Healthy() with both endpoints connected")
	}

	b.SetConnected(false)
	if sup.Health().Healthy() {
		t.Error("expected not Healthy() with endpoint b down")
	}
}

func TestSupervisorFatalEventDoesNotCrash(t *testing.T) {
	a, b := NewMockSession(), NewMockSession()
	sup := testSupervisor(t, testConfig(), a, b)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop()

	// A fatal configuration event on one endpoint is logged and the
	// bridge keeps running; the other direction may still be healthy.
	a.mu.Lock()
	fatal := a.onFatal
	a.mu.Unlock()
	if fatal == nil {
		t.Fatal("expected fatal callback to be wired")
	}
	fatal(errors.New("bad user name or password"))

	if got := sup.State(); got != StateRunning {
		t.Errorf("State() = %v after fatal event, want %v", got, StateRunning)
	}
}
