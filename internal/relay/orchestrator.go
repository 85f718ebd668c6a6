// Package relay wires one inbound chat message through the full exchange
// pipeline: trigger match, access control, bounded context, backend call,
// response normalization, and segment delivery.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/telepoe/internal/backend"
	"github.com/nextlevelbuilder/telepoe/internal/config"
	"github.com/nextlevelbuilder/telepoe/internal/delivery"
	"github.com/nextlevelbuilder/telepoe/internal/markup"
	"github.com/nextlevelbuilder/telepoe/internal/normalize"
	"github.com/nextlevelbuilder/telepoe/internal/store"
	"github.com/nextlevelbuilder/telepoe/internal/trigger"
)

// ChatClient is the backend chat-completion call.
type ChatClient interface {
	Chat(ctx context.Context, model string, turns []backend.Turn) (*backend.ChatResult, error)
}

// PointsSource reports the cost of the most recent backend request.
// Best-effort: the second return value is false when unavailable.
type PointsSource interface {
	LastRequestCost(ctx context.Context) (int64, bool)
}

// Deliverer sends the formatted segment sequence in order.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, segments []string) []delivery.Status
}

// Platform is the narrow messaging surface the orchestrator touches outside
// segment delivery. All calls are best-effort.
type Platform interface {
	// Notify sends a short plain-text notice.
	Notify(ctx context.Context, chatID int64, text string)
	// Typing shows the typing indicator.
	Typing(ctx context.Context, chatID int64)
	// RequestWhitelist prompts an unauthorized user and offers the
	// approval workflow.
	RequestWhitelist(ctx context.Context, chatID int64, userID int64, username string)
}

// Message is one inbound message, converted at the channel boundary.
type Message struct {
	ChatID   int64
	UserID   int64
	Username string
	Text     string
	// Attachment is the already-converted canonical attachment, nil when
	// the message carries none.
	Attachment *backend.Attachment
}

// User-visible notices. The bot speaks Russian to match its audience.
const (
	noticeBackendFailure  = "Ошибка при обращении к модели, попробуйте позже."
	noticeEconomyBlocked  = "Режим экономии включён, эта модель временно недоступна."
	noticeEmptyQuery      = "Введите запрос после триггера или приложите файл."
	noticeClearedFmt      = "Контекст для %s очищен."
	costDecorationFmt     = "\n\n**Стоимость %d очков**"
	generatingPrefix      = "Generating..."
)

// Orchestrator runs the exchange pipeline. One instance serves all chats;
// each inbound message is handled on its own goroutine by the channel.
type Orchestrator struct {
	registry *trigger.Registry
	backends map[string]config.BackendSpec
	client   ChatClient
	points   PointsSource // nil disables cost accounting
	stores   *store.Stores
	executor Deliverer
	platform Platform
	economy  *Economy
	rulesMu sync.RWMutex
	rules   normalize.Rules
	window   int

	whitelistEnabled bool
	isAdmin          func(userID string) bool
	tracer           trace.Tracer
}

// Options carries the orchestrator wiring.
type Options struct {
	Registry         *trigger.Registry
	Backends         map[string]config.BackendSpec
	Client           ChatClient
	Points           PointsSource
	Stores           *store.Stores
	Executor         Deliverer
	Platform         Platform
	Economy          *Economy
	Rules            normalize.Rules
	ContextWindow    int
	WhitelistEnabled bool
	IsAdmin          func(userID string) bool
}

func NewOrchestrator(opts Options) *Orchestrator {
	window := opts.ContextWindow
	if window <= 0 {
		window = 5
	}
	isAdmin := opts.IsAdmin
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &Orchestrator{
		registry:         opts.Registry,
		backends:         opts.Backends,
		client:           opts.Client,
		points:           opts.Points,
		stores:           opts.Stores,
		executor:         opts.Executor,
		platform:         opts.Platform,
		economy:          opts.Economy,
		rules:            opts.Rules,
		window:           window,
		whitelistEnabled: opts.WhitelistEnabled,
		isAdmin:          isAdmin,
		tracer:           otel.Tracer("telepoe/relay"),
	}
}

// SetRules swaps the normalizer rules (config hot reload). Exchanges in
// flight read the rules under the same lock.
func (o *Orchestrator) SetRules(rules normalize.Rules) {
	o.rulesMu.Lock()
	o.rules = rules
	o.rulesMu.Unlock()
}

func (o *Orchestrator) currentRules() normalize.Rules {
	o.rulesMu.RLock()
	defer o.rulesMu.RUnlock()
	return o.rules
}

// HandleMessage runs one exchange end to end. A message whose text matches
// no trigger is silently ignored.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg Message) {
	m, ok := o.registry.Match(msg.Text)
	if !ok {
		return
	}

	exchangeID := uuid.NewString()[:8]
	log := slog.With("exchange", exchangeID, "chat_id", msg.ChatID, "backend", m.Backend)

	ctx, span := o.tracer.Start(ctx, "relay.exchange",
		trace.WithAttributes(
			attribute.String("exchange.id", exchangeID),
			attribute.Int64("chat.id", msg.ChatID),
			attribute.String("backend", m.Backend),
			attribute.String("trigger", m.Trigger),
		))
	defer span.End()

	if !o.authorized(ctx, msg) {
		log.Info("unauthorized, whitelist prompt sent", "user_id", msg.UserID)
		span.AddEvent("unauthorized")
		return
	}

	if trigger.IsClearCommand(m.Remainder) {
		o.clearContext(ctx, msg, m, log)
		return
	}

	if !o.economy.Allows(m.Backend) {
		o.platform.Notify(ctx, msg.ChatID, noticeEconomyBlocked)
		log.Info("blocked by economy mode")
		return
	}

	if strings.TrimSpace(m.Remainder) == "" && msg.Attachment == nil {
		o.platform.Notify(ctx, msg.ChatID, noticeEmptyQuery)
		return
	}

	spec := o.backends[m.Backend]

	before, err := o.stores.Contexts.Get(ctx, msg.ChatID, m.Backend)
	if err != nil {
		log.Error("context read failed", "error", err)
		o.platform.Notify(ctx, msg.ChatID, noticeBackendFailure)
		return
	}
	span.AddEvent("context loaded")

	o.platform.Typing(ctx, msg.ChatID)

	userTurn := backend.Turn{
		Role:    backend.RoleUser,
		Content: m.Remainder,
	}
	if msg.Attachment != nil {
		userTurn.Attachments = []backend.Attachment{*msg.Attachment}
	}
	if len(spec.Params) > 0 && strings.TrimSpace(m.Remainder) != "" {
		userTurn.Parameters = spec.Params
	}

	// The backend never sees more than the window's worth of turns.
	outbound := append(copyTurns(before), userTurn)
	if len(outbound) > o.window {
		outbound = outbound[len(outbound)-o.window:]
	}

	result, err := o.client.Chat(ctx, spec.Model, outbound)
	if err != nil {
		// No context write: a failed call never pollutes stored history.
		log.Error("backend call failed", "error", err)
		span.RecordError(err)
		o.platform.Notify(ctx, msg.ChatID, noticeBackendFailure)
		return
	}
	span.AddEvent("backend answered")

	normalized := o.currentRules().Normalize(stripGeneratingPrefix(result.Text))
	display := appendInlineImages(normalized, result.Attachments)

	if cost, ok := o.lookupCost(ctx, msg.Username, log); ok {
		display += fmt.Sprintf(costDecorationFmt, cost)
	}

	assistantTurn := backend.Turn{Role: backend.RoleAssistant, Content: normalized}

	// Concurrent exchanges on the same key race read-modify-write; the
	// later write wins. Detect the interleaving and mark both turns so the
	// gap is visible in stored history.
	if after, rerr := o.stores.Contexts.Get(ctx, msg.ChatID, m.Backend); rerr == nil && !turnsEqual(before, after) {
		log.Warn("concurrent exchange interleaved, annotating turns")
		span.AddEvent("context conflict detected")
		userTurn.Flags = []string{backend.FlagContextConflict}
		assistantTurn.Flags = []string{backend.FlagContextConflict}
	}

	o.persist(ctx, msg, m.Backend, before, userTurn, assistantTurn, log)
	span.AddEvent("context persisted")

	quoteMode, _ := o.stores.Settings.GetBool(ctx, store.QuoteModeKey(msg.ChatID))
	mode := markup.ModePlain
	if quoteMode {
		mode = markup.ModeQuote
	}

	segments := markup.Format(display, mode)
	statuses := o.executor.Deliver(ctx, msg.ChatID, segments)
	span.AddEvent("delivered")

	for i, st := range statuses {
		if st != delivery.StatusSent {
			log.Warn("segment not sent cleanly", "segment", i+1, "status", st.String())
		}
	}
	log.Info("exchange complete", "segments", len(segments))
}

// authorized applies the whitelist gate. Admins and whitelisted entities
// pass; anyone else gets the approval prompt.
func (o *Orchestrator) authorized(ctx context.Context, msg Message) bool {
	if !o.whitelistEnabled {
		return true
	}
	if o.isAdmin(fmt.Sprintf("%d", msg.UserID)) {
		return true
	}
	listed, err := o.stores.Whitelist.IsWhitelisted(ctx, msg.ChatID)
	if err != nil {
		slog.Error("whitelist check failed", "chat_id", msg.ChatID, "error", err)
		return false
	}
	if listed {
		return true
	}
	o.platform.RequestWhitelist(ctx, msg.ChatID, msg.UserID, msg.Username)
	return false
}

func (o *Orchestrator) clearContext(ctx context.Context, msg Message, m trigger.Match, log *slog.Logger) {
	if err := o.stores.Contexts.Clear(ctx, msg.ChatID, m.Backend); err != nil {
		log.Error("context clear failed", "error", err)
		o.platform.Notify(ctx, msg.ChatID, noticeBackendFailure)
		return
	}
	log.Info("context cleared")
	o.platform.Notify(ctx, msg.ChatID, fmt.Sprintf(noticeClearedFmt, m.Backend))
}

func (o *Orchestrator) lookupCost(ctx context.Context, username string, log *slog.Logger) (int64, bool) {
	if o.points == nil {
		return 0, false
	}
	cost, ok := o.points.LastRequestCost(ctx)
	if !ok || cost <= 0 {
		return 0, false
	}
	if username != "" {
		if err := o.stores.Usage.Increment(ctx, username, cost); err != nil {
			log.Warn("usage accounting failed", "username", username, "error", err)
		}
	}
	return cost, true
}

// persist appends the exchange to the bounded context window and the
// append-only log. Transient fields are stripped; only the last window
// entries survive. Failures here are logged, not user-visible: the answer
// is still delivered.
func (o *Orchestrator) persist(ctx context.Context, msg Message, backendID string, before []backend.Turn, userTurn, assistantTurn backend.Turn, log *slog.Logger) {
	turns := append(copyTurns(before), userTurn.StripTransient(), assistantTurn.StripTransient())
	if len(turns) > o.window {
		turns = turns[len(turns)-o.window:]
	}
	if err := o.stores.Contexts.Set(ctx, msg.ChatID, backendID, turns); err != nil {
		log.Error("context write failed", "error", err)
	}

	if err := o.stores.Log.Append(ctx, msg.ChatID, backendID, msg.Username, backend.RoleUser, userTurn.Content); err != nil {
		log.Warn("exchange log append failed", "role", "user", "error", err)
	}
	if err := o.stores.Log.Append(ctx, msg.ChatID, backendID, msg.Username, backend.RoleAssistant, assistantTurn.Content); err != nil {
		log.Warn("exchange log append failed", "role", "assistant", "error", err)
	}
}

func copyTurns(turns []backend.Turn) []backend.Turn {
	out := make([]backend.Turn, len(turns))
	copy(out, turns)
	return out
}

func turnsEqual(a, b []backend.Turn) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Role != b[i].Role || a[i].Content != b[i].Content {
			return false
		}
	}
	return true
}

// stripGeneratingPrefix drops the transient "Generating..." placeholder some
// backends leave at the head of the final answer.
func stripGeneratingPrefix(text string) string {
	head := strings.TrimLeft(text, " \n")
	if !strings.HasPrefix(head, generatingPrefix) {
		return text
	}
	return strings.TrimLeft(strings.TrimPrefix(head, generatingPrefix), " \n")
}

// appendInlineImages rewrites response attachments into zero-width-space
// markdown links so Telegram previews the generated images.
func appendInlineImages(text string, atts []backend.ResponseAttachment) string {
	for _, a := range atts {
		if a.URL == "" {
			continue
		}
		if a.InlineRef != "" && strings.Contains(text, a.InlineRef) {
			text = strings.Replace(text, a.InlineRef, fmt.Sprintf("[​](%s)", a.URL), 1)
			continue
		}
		text += fmt.Sprintf("\n\n[​](%s)", a.URL)
	}
	return text
}
