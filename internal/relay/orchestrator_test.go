package relay

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/telepoe/internal/backend"
	"github.com/nextlevelbuilder/telepoe/internal/config"
	"github.com/nextlevelbuilder/telepoe/internal/delivery"
	"github.com/nextlevelbuilder/telepoe/internal/normalize"
	"github.com/nextlevelbuilder/telepoe/internal/store"
	"github.com/nextlevelbuilder/telepoe/internal/trigger"
)

type fakeContexts struct {
	data map[string][]backend.Turn
	// getQueue overrides successive Get results when non-nil (for
	// simulating a concurrent writer between reads).
	getQueue [][]backend.Turn
	sets     int
	clears   int
}

func ctxKey(chatID int64, backendID string) string {
	return fmt.Sprintf("%d/%s", chatID, backendID)
}

func (f *fakeContexts) Get(_ context.Context, chatID int64, backendID string) ([]backend.Turn, error) {
	if len(f.getQueue) > 0 {
		head := f.getQueue[0]
		f.getQueue = f.getQueue[1:]
		return head, nil
	}
	return f.data[ctxKey(chatID, backendID)], nil
}

func (f *fakeContexts) Set(_ context.Context, chatID int64, backendID string, turns []backend.Turn) error {
	if f.data == nil {
		f.data = make(map[string][]backend.Turn)
	}
	f.data[ctxKey(chatID, backendID)] = turns
	f.sets++
	return nil
}

func (f *fakeContexts) Clear(_ context.Context, chatID int64, backendID string) error {
	delete(f.data, ctxKey(chatID, backendID))
	f.clears++
	return nil
}

type fakeLog struct {
	entries []string
}

func (f *fakeLog) Append(_ context.Context, chatID int64, backendID, username, role, content string) error {
	f.entries = append(f.entries, role+":"+content)
	return nil
}

type fakeWhitelist struct {
	listed map[int64]bool
}

func (f *fakeWhitelist) IsWhitelisted(_ context.Context, id int64) (bool, error) {
	return f.listed[id], nil
}
func (f *fakeWhitelist) Add(_ context.Context, id int64) error {
	if f.listed == nil {
		f.listed = make(map[int64]bool)
	}
	f.listed[id] = true
	return nil
}
func (f *fakeWhitelist) Remove(_ context.Context, id int64) error {
	delete(f.listed, id)
	return nil
}
func (f *fakeWhitelist) ListDetails(_ context.Context) ([]store.WhitelistEntry, error) {
	return nil, nil
}

type fakeUsage struct {
	totals map[string]int64
}

func (f *fakeUsage) Increment(_ context.Context, username string, points int64) error {
	if f.totals == nil {
		f.totals = make(map[string]int64)
	}
	f.totals[username] += points
	return nil
}
func (f *fakeUsage) Leaderboard(_ context.Context) ([]store.UsageEntry, error) { return nil, nil }
func (f *fakeUsage) Reset(_ context.Context) error                            { return nil }

type fakeSettings struct {
	bools map[string]bool
}

func (f *fakeSettings) GetBool(_ context.Context, key string) (bool, error) {
	return f.bools[key], nil
}
func (f *fakeSettings) SetBool(_ context.Context, key string, v bool) error {
	if f.bools == nil {
		f.bools = make(map[string]bool)
	}
	f.bools[key] = v
	return nil
}

type fakeClient struct {
	calls  [][]backend.Turn
	models []string
	reply  string
	err    error
}

func (f *fakeClient) Chat(_ context.Context, model string, turns []backend.Turn) (*backend.ChatResult, error) {
	f.calls = append(f.calls, turns)
	f.models = append(f.models, model)
	if f.err != nil {
		return nil, f.err
	}
	return &backend.ChatResult{Text: f.reply}, nil
}

type fakePlatform struct {
	notices           []string
	typing            int
	whitelistRequests int
}

func (f *fakePlatform) Notify(_ context.Context, _ int64, text string) {
	f.notices = append(f.notices, text)
}
func (f *fakePlatform) Typing(_ context.Context, _ int64) { f.typing++ }
func (f *fakePlatform) RequestWhitelist(_ context.Context, _ int64, _ int64, _ string) {
	f.whitelistRequests++
}

type fakeDeliverer struct {
	deliveries [][]string
}

func (f *fakeDeliverer) Deliver(_ context.Context, _ int64, segments []string) []delivery.Status {
	f.deliveries = append(f.deliveries, segments)
	statuses := make([]delivery.Status, len(segments))
	return statuses
}

type fixture struct {
	orch      *Orchestrator
	contexts  *fakeContexts
	log       *fakeLog
	whitelist *fakeWhitelist
	usage     *fakeUsage
	settings  *fakeSettings
	client    *fakeClient
	platform  *fakePlatform
	deliverer *fakeDeliverer
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	reg, err := trigger.NewRegistry(map[string][]string{
		"GPT-5":  {"gpt", "гпт"},
		"Claude": {"claude"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	f := &fixture{
		contexts:  &fakeContexts{data: make(map[string][]backend.Turn)},
		log:       &fakeLog{},
		whitelist: &fakeWhitelist{},
		usage:     &fakeUsage{},
		settings:  &fakeSettings{},
		client:    &fakeClient{reply: "answer"},
		platform:  &fakePlatform{},
		deliverer: &fakeDeliverer{},
	}

	opts := Options{
		Registry: reg,
		Backends: map[string]config.BackendSpec{
			"GPT-5":  {Model: "GPT-5"},
			"Claude": {Model: "Claude-Sonnet-4"},
		},
		Client: f.client,
		Stores: &store.Stores{
			Contexts:  f.contexts,
			Log:       f.log,
			Whitelist: f.whitelist,
			Usage:     f.usage,
			Settings:  f.settings,
		},
		Executor:      f.deliverer,
		Platform:      f.platform,
		Economy:       NewEconomy(f.settings, []string{"Claude"}),
		Rules:         normalize.DefaultRules(),
		ContextWindow: 5,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.orch = NewOrchestrator(opts)
	return f
}

func TestExchangeFirstMessage(t *testing.T) {
	f := newFixture(t, nil)

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Username: "alice", Text: "gpt hello"})

	if len(f.client.calls) != 1 {
		t.Fatalf("backend calls = %d, want 1", len(f.client.calls))
	}
	call := f.client.calls[0]
	if len(call) != 1 || call[0].Role != backend.RoleUser || call[0].Content != "hello" {
		t.Fatalf("backend invoked with %+v, want single user turn %q", call, "hello")
	}
	if f.client.models[0] != "GPT-5" {
		t.Errorf("model = %q, want GPT-5", f.client.models[0])
	}

	stored := f.contexts.data[ctxKey(10, "GPT-5")]
	if len(stored) != 2 {
		t.Fatalf("stored turns = %d, want 2", len(stored))
	}
	if stored[0].Content != "hello" || stored[1].Content != "answer" {
		t.Errorf("stored contents = %q / %q", stored[0].Content, stored[1].Content)
	}
	if len(f.deliverer.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(f.deliverer.deliveries))
	}
}

func TestExchangeClearCommand(t *testing.T) {
	f := newFixture(t, nil)
	f.contexts.data[ctxKey(10, "GPT-5")] = []backend.Turn{{Role: backend.RoleUser, Content: "old"}}

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "gpt clear"})

	if len(f.client.calls) != 0 {
		t.Fatalf("backend called %d times, want 0", len(f.client.calls))
	}
	if _, ok := f.contexts.data[ctxKey(10, "GPT-5")]; ok {
		t.Error("context not deleted")
	}
	if len(f.platform.notices) != 1 || !strings.Contains(f.platform.notices[0], "GPT-5") {
		t.Errorf("confirmation = %v, want one notice naming the backend", f.platform.notices)
	}
}

func TestExchangeBackendFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.client.err = fmt.Errorf("%w: connection refused", backend.ErrBackend)

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "gpt hello"})

	if f.contexts.sets != 0 {
		t.Error("context written after backend failure")
	}
	if len(f.log.entries) != 0 {
		t.Error("exchange logged after backend failure")
	}
	if len(f.platform.notices) != 1 {
		t.Fatalf("notices = %d, want exactly 1", len(f.platform.notices))
	}
	if len(f.client.calls) != 1 {
		t.Errorf("backend calls = %d, want 1 (no retry)", len(f.client.calls))
	}
}

func TestContextWindowTrim(t *testing.T) {
	f := newFixture(t, nil)
	var seed []backend.Turn
	for i := 0; i < 5; i++ {
		seed = append(seed, backend.Turn{Role: backend.RoleUser, Content: fmt.Sprintf("old-%d", i)})
	}
	f.contexts.data[ctxKey(10, "GPT-5")] = seed

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "gpt fresh"})

	stored := f.contexts.data[ctxKey(10, "GPT-5")]
	if len(stored) != 5 {
		t.Fatalf("stored turns = %d, want window cap 5", len(stored))
	}
	if stored[3].Content != "fresh" || stored[4].Content != "answer" {
		t.Errorf("window tail = %q / %q, want the new exchange", stored[3].Content, stored[4].Content)
	}
	if stored[0].Content != "old-2" {
		t.Errorf("window head = %q, want old-2 (oldest dropped first)", stored[0].Content)
	}
}

func TestBackendReceivesTrimmedWindow(t *testing.T) {
	f := newFixture(t, nil)
	var seed []backend.Turn
	for i := 0; i < 5; i++ {
		seed = append(seed, backend.Turn{Role: backend.RoleUser, Content: fmt.Sprintf("old-%d", i)})
	}
	f.contexts.data[ctxKey(10, "GPT-5")] = seed

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "gpt fresh"})

	call := f.client.calls[0]
	if len(call) != 5 {
		t.Fatalf("backend received %d turns, want window cap 5", len(call))
	}
	if call[4].Content != "fresh" {
		t.Errorf("last outbound turn = %q, want the new user turn", call[4].Content)
	}
	if call[0].Content != "old-1" {
		t.Errorf("first outbound turn = %q, want old-1 (oldest dropped)", call[0].Content)
	}
}

func TestSetRulesDuringLiveTraffic(t *testing.T) {
	f := newFixture(t, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			rules := normalize.DefaultRules()
			rules.SourcesNotice = fmt.Sprintf("notice %d", i)
			f.orch.SetRules(rules)
		}
	}()
	for i := 0; i < 50; i++ {
		f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "gpt hello"})
	}
	<-done

	if len(f.client.calls) != 50 {
		t.Fatalf("backend calls = %d, want 50", len(f.client.calls))
	}
}

func TestTransientFieldsStrippedBeforePersist(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Backends["GPT-5"] = config.BackendSpec{Model: "GPT-5", Params: map[string]string{"web_search": "true"}}
	})

	att := &backend.Attachment{Filename: "x.png", MimeType: "image/png", Base64: "aGk="}
	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "gpt look", Attachment: att})

	call := f.client.calls[0]
	if len(call[0].Attachments) != 1 || call[0].Parameters["web_search"] != "true" {
		t.Fatal("backend call missing attachment or parameters")
	}

	stored := f.contexts.data[ctxKey(10, "GPT-5")]
	if stored[0].Attachments != nil || stored[0].Parameters != nil {
		t.Error("transient fields persisted")
	}
}

func TestConcurrentInterleaveAnnotated(t *testing.T) {
	f := newFixture(t, nil)
	// First Get (pre-call) sees empty; second Get (post-call re-read) sees a
	// turn written by a concurrent exchange.
	f.contexts.getQueue = [][]backend.Turn{
		nil,
		{{Role: backend.RoleUser, Content: "sniped"}},
	}

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "gpt hello"})

	stored := f.contexts.data[ctxKey(10, "GPT-5")]
	if len(stored) != 2 {
		t.Fatalf("stored turns = %d, want 2", len(stored))
	}
	for i, turn := range stored {
		if len(turn.Flags) != 1 || turn.Flags[0] != backend.FlagContextConflict {
			t.Errorf("turn %d flags = %v, want [%s]", i, turn.Flags, backend.FlagContextConflict)
		}
	}
}

func TestEconomyModeBlocks(t *testing.T) {
	f := newFixture(t, nil)
	economy := NewEconomy(f.settings, []string{"Claude"})
	if err := economy.SetEnabled(context.Background(), true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	f.orch.economy = economy

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "gpt hello"})
	if len(f.client.calls) != 0 {
		t.Error("blocked backend still called")
	}
	if len(f.platform.notices) != 1 {
		t.Errorf("notices = %d, want 1", len(f.platform.notices))
	}

	// The economy set stays reachable.
	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "claude hello"})
	if len(f.client.calls) != 1 {
		t.Error("exempt backend not called")
	}
}

func TestWhitelistGate(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.WhitelistEnabled = true
		o.IsAdmin = func(id string) bool { return id == "99" }
	})

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, UserID: 1, Text: "gpt hi"})
	if len(f.client.calls) != 0 {
		t.Error("unauthorized exchange reached the backend")
	}
	if f.platform.whitelistRequests != 1 {
		t.Errorf("whitelist requests = %d, want 1", f.platform.whitelistRequests)
	}
	if f.contexts.sets != 0 || len(f.log.entries) != 0 {
		t.Error("unauthorized exchange mutated state")
	}

	t.Run("admin bypasses", func(t *testing.T) {
		f.orch.HandleMessage(context.Background(), Message{ChatID: 10, UserID: 99, Text: "gpt hi"})
		if len(f.client.calls) != 1 {
			t.Error("admin exchange blocked")
		}
	})

	t.Run("whitelisted chat passes", func(t *testing.T) {
		if err := f.whitelist.Add(context.Background(), 20); err != nil {
			t.Fatal(err)
		}
		f.orch.HandleMessage(context.Background(), Message{ChatID: 20, UserID: 2, Text: "gpt hi"})
		if len(f.client.calls) != 2 {
			t.Error("whitelisted exchange blocked")
		}
	})
}

func TestEmptyRemainderPrompt(t *testing.T) {
	f := newFixture(t, nil)

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "gpt"})

	if len(f.client.calls) != 0 {
		t.Error("empty query reached the backend")
	}
	if len(f.platform.notices) != 1 {
		t.Fatalf("notices = %d, want 1", len(f.platform.notices))
	}
}

func TestNoTriggerIsSilentlyIgnored(t *testing.T) {
	f := newFixture(t, nil)

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "just chatting"})

	if len(f.client.calls) != 0 || len(f.platform.notices) != 0 || f.contexts.sets != 0 {
		t.Error("non-trigger message was not ignored")
	}
}

func TestCostDecorationAndUsage(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Points = pointsStub{cost: 42}
	})

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Username: "bob", Text: "gpt hi"})

	if f.usage.totals["bob"] != 42 {
		t.Errorf("usage total = %d, want 42", f.usage.totals["bob"])
	}
	segments := f.deliverer.deliveries[0]
	joined := strings.Join(segments, "\n")
	if !strings.Contains(joined, "42") || !strings.Contains(joined, "очков") {
		t.Errorf("delivered text lacks cost decoration: %q", joined)
	}

	// The persisted assistant turn stays undecorated.
	stored := f.contexts.data[ctxKey(10, "GPT-5")]
	if strings.Contains(stored[1].Content, "очков") {
		t.Error("cost decoration leaked into persisted context")
	}
}

type pointsStub struct {
	cost int64
}

func (p pointsStub) LastRequestCost(context.Context) (int64, bool) { return p.cost, p.cost > 0 }

func TestLongReplySegmentation(t *testing.T) {
	f := newFixture(t, nil)
	f.client.reply = strings.Repeat("a", 9000)

	f.orch.HandleMessage(context.Background(), Message{ChatID: 10, Text: "gpt go"})

	segments := f.deliverer.deliveries[0]
	if len(segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(segments))
	}
	for i, seg := range segments {
		if len(seg) > 4000 {
			t.Errorf("segment %d length %d exceeds 4000", i, len(seg))
		}
	}
	if strings.Join(segments, "") != f.client.reply {
		t.Error("concatenated segments do not reproduce the reply")
	}
}

func TestEconomyPersistsAcrossRestart(t *testing.T) {
	settings := &fakeSettings{}
	first := NewEconomy(settings, nil)
	if err := first.SetEnabled(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	second := NewEconomy(settings, nil)
	if err := second.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !second.Enabled() {
		t.Error("economy flag lost across restart")
	}
}
