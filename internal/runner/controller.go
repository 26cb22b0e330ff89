// Package runner drives one submit-to-settle run against the agent
// backend: it opens the stream, feeds the decoder/classifier/reducer
// pipeline, and republishes conversation state to its observers. A
// Controller owns at most one in-flight stream; only the active run's
// goroutine may write the conversation, which is what makes cancellation
// and re-submission safe without locking around the reducer.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/helixworks/bioagent-client/internal/auth"
	"github.com/helixworks/bioagent-client/internal/conversation"
	"github.com/helixworks/bioagent-client/internal/domain"
	"github.com/helixworks/bioagent-client/internal/storage"
	"github.com/helixworks/bioagent-client/internal/stream"
	"github.com/helixworks/bioagent-client/internal/tokens"
)

const (
	// TerminalNode is the pipeline stage whose output is the user-facing
	// final answer.
	TerminalNode = "finalize_answer"
	// EnrichNode is the structure-lookup stage whose retrieval context is
	// mined for protein names.
	EnrichNode = "protein_lookup"

	defaultConnectTimeout = 10 * time.Second
)

// ErrTimeout is reported when the initial connection is not established
// within the connect timeout.
var ErrTimeout = errors.New("timed out connecting to agent backend")

// State is the controller lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateStreaming  State = "streaming"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Settled reports whether the state is terminal.
func (s State) Settled() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// RunConfig is the caller-supplied configuration forwarded with a run.
type RunConfig struct {
	Model        string
	SearchEffort string
	Toggles      map[string]bool
}

// Observers receive run progress. All callbacks are invoked from the run
// goroutine, never concurrently with each other.
type (
	FrameObserver func(*stream.Frame)
	ErrorObserver func(error)
	StateObserver func(State)
)

// Controller orchestrates runs. Construct with New; zero value is not
// usable.
type Controller struct {
	baseURL        string
	httpClient     *http.Client
	logger         *slog.Logger
	tokenProvider  auth.TokenProvider
	threadStore    storage.ThreadStore
	threadID       string
	connectTimeout time.Duration
	terminalNode   string
	enrichNode     string

	onFrame FrameObserver
	onError ErrorObserver
	onState StateObserver

	mu       sync.Mutex
	state    State
	messages []domain.Message
	active   *runHandle
}

// runHandle is the per-run bookkeeping shared between the run goroutine and
// Stop.
type runHandle struct {
	cancel   context.CancelFunc
	stopped  bool // user-initiated Stop
	timedOut bool // handshake timer fired
	done     chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithHTTPClient overrides the HTTP client used for streaming.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) { c.httpClient = client }
}

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithTokenProvider injects the bearer token source.
func WithTokenProvider(tp auth.TokenProvider) Option {
	return func(c *Controller) { c.tokenProvider = tp }
}

// WithThreadStore persists the conversation when a run completes. threadID
// identifies the stored thread; empty generates one.
func WithThreadStore(store storage.ThreadStore, threadID string) Option {
	return func(c *Controller) {
		c.threadStore = store
		c.threadID = threadID
	}
}

// WithConnectTimeout bounds the initial stream handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Controller) { c.connectTimeout = d }
}

// WithTerminalNode overrides the terminal node name.
func WithTerminalNode(node string) Option {
	return func(c *Controller) { c.terminalNode = node }
}

// WithEnrichNode overrides the structure-lookup node name.
func WithEnrichNode(node string) Option {
	return func(c *Controller) { c.enrichNode = node }
}

// OnFrame registers a progress observer; it receives every classified
// frame, including non-terminal ones that never reach the transcript.
func OnFrame(fn FrameObserver) Option {
	return func(c *Controller) { c.onFrame = fn }
}

// OnError registers the error observer. It is invoked at most once per run;
// cancellation is never reported to it.
func OnError(fn ErrorObserver) Option {
	return func(c *Controller) { c.onError = fn }
}

// OnStateChange registers a lifecycle observer.
func OnStateChange(fn StateObserver) Option {
	return func(c *Controller) { c.onState = fn }
}

// New creates a Controller for the backend at baseURL.
func New(baseURL string, opts ...Option) *Controller {
	c := &Controller{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		logger:         slog.Default(),
		connectTimeout: defaultConnectTimeout,
		terminalNode:   TerminalNode,
		enrichNode:     EnrichNode,
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsLoading reports whether a run is in flight.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateSubmitting || c.state == StateStreaming
}

// Messages returns a snapshot of the current conversation. The snapshot is
// deep-copied: the run goroutine keeps merging into the live metadata maps,
// so a shallow copy would race with callers reading an earlier snapshot.
func (c *Controller) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CopyMessages(c.messages)
}

// Submit starts a run for the given conversation history. It is legal from
// idle or any settled state; a Submit while a run is still streaming first
// cancels the in-flight run. Submit does not block: the stream is consumed
// on a background goroutine and state is published through the observers.
func (c *Controller) Submit(ctx context.Context, history []domain.Message, cfg RunConfig) error {
	c.mu.Lock()
	if prev := c.active; prev != nil && !c.state.Settled() && c.state != StateIdle {
		changed := c.stopLocked(prev)
		c.mu.Unlock()
		c.notifyState(changed, StateCancelled)
		<-prev.done
		c.mu.Lock()
	}

	placeholderID := domain.NewMessageID()
	placeholder := domain.Message{ID: placeholderID, Role: domain.RoleAI}
	placeholder.SetMeta("progress", true)

	c.messages = make([]domain.Message, 0, len(history)+1)
	c.messages = append(c.messages, history...)
	c.messages = append(c.messages, placeholder)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &runHandle{cancel: cancel, done: make(chan struct{})}
	c.active = h
	changed := c.setStateLocked(StateSubmitting)
	c.mu.Unlock()
	c.notifyState(changed, StateSubmitting)

	body, err := json.Marshal(NewRunRequest(history, cfg))
	if err != nil {
		cancel()
		c.settle(h, StateFailed, fmt.Errorf("failed to marshal request: %w", err))
		close(h.done)
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	go c.run(runCtx, h, history, cfg, placeholderID, body)
	return nil
}

// Stop cancels the in-flight run, if any. Cancellation is not a failure: it
// settles the run as cancelled and the error observer is never invoked.
// Stop is idempotent; calling it when already settled is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.active == nil || c.state.Settled() || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	changed := c.stopLocked(c.active)
	c.mu.Unlock()
	c.notifyState(changed, StateCancelled)
}

func (c *Controller) stopLocked(h *runHandle) bool {
	h.stopped = true
	h.cancel()
	clearProgress(c.messages)
	return c.setStateLocked(StateCancelled)
}

// run executes the connect/stream/settle lifecycle for one run.
func (c *Controller) run(ctx context.Context, h *runHandle, history []domain.Message, cfg RunConfig, placeholderID string, body []byte) {
	defer close(h.done)
	defer h.cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/agent/stream", bytes.NewReader(body))
	if err != nil {
		c.settle(h, StateFailed, fmt.Errorf("failed to create request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	if c.tokenProvider != nil {
		token, err := c.tokenProvider.Token(ctx, false)
		if err != nil {
			c.settle(h, StateFailed, fmt.Errorf("failed to acquire token: %w", err))
			return
		}
		auth.Authorize(req, token)
	}

	// The connect timeout races the handshake; once the response arrives
	// the run is bounded only by cancellation.
	timer := time.AfterFunc(c.connectTimeout, func() {
		c.mu.Lock()
		h.timedOut = true
		c.mu.Unlock()
		h.cancel()
	})

	resp, err := c.httpClient.Do(req)
	timerStopped := timer.Stop()
	if err != nil {
		c.settleTransportError(h, fmt.Errorf("failed to connect: %w", err))
		return
	}
	defer resp.Body.Close()
	if !timerStopped {
		// The timer fired between the response arriving and being seen
		// here; the run context is already cancelled.
		c.settleTransportError(h, context.Canceled)
		return
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.settle(h, StateFailed, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
		return
	}

	c.mu.Lock()
	if h.stopped {
		c.mu.Unlock()
		return
	}
	changed := c.setStateLocked(StateStreaming)
	c.mu.Unlock()
	c.notifyState(changed, StateStreaming)

	decoder := &stream.LineDecoder{}
	classifier := stream.NewClassifier(c.terminalNode)
	reducer := conversation.NewReducer(c.terminalNode, c.enrichNode, placeholderID)

	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			c.settleTransportError(h, ctx.Err())
			return
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range decoder.Feed(string(buf[:n])) {
				if !c.applyLine(h, classifier, reducer, line) {
					return
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if line, ok := decoder.Flush(); ok {
					if !c.applyLine(h, classifier, reducer, line) {
						return
					}
				}
				c.finishRun(ctx, h, history, cfg, reducer)
				return
			}
			c.settleTransportError(h, fmt.Errorf("stream read error: %w", readErr))
			return
		}
	}
}

// applyLine classifies one line and merges it into the conversation.
// Returns false when the run was superseded or stopped and processing must
// halt without further updates.
func (c *Controller) applyLine(h *runHandle, classifier *stream.Classifier, reducer *conversation.Reducer, line string) bool {
	frame := classifier.Classify(line)
	if frame == nil || frame.Keepalive {
		return true
	}

	c.mu.Lock()
	if c.active != h || h.stopped || c.state != StateStreaming {
		c.mu.Unlock()
		return false
	}
	c.messages = reducer.Apply(c.messages, frame)
	c.mu.Unlock()

	if c.onFrame != nil {
		c.onFrame(frame)
	}
	return true
}

// finishRun handles end-of-input: the server closed the stream, so the run
// settles completed with whatever was merged.
func (c *Controller) finishRun(ctx context.Context, h *runHandle, history []domain.Message, cfg RunConfig, reducer *conversation.Reducer) {
	c.attachUsage(history, cfg, reducer)
	c.settle(h, StateCompleted, nil)
	c.persistThread(ctx, h)
}

// attachUsage estimates token usage for the final answer when the stream
// carried none.
func (c *Controller) attachUsage(history []domain.Message, cfg RunConfig, reducer *conversation.Reducer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i := range c.messages {
		if c.messages[i].ID == reducer.PlaceholderID() {
			idx = i
			break
		}
	}
	if idx < 0 || c.messages[idx].Content == "" {
		return
	}
	if _, ok := c.messages[idx].Metadata["usage"]; ok {
		return
	}
	usage := tokens.NewEstimator(cfg.Model).Estimate(history, c.messages[idx].Content)
	c.messages[idx].SetMeta("usage", usage)
}

// persistThread stores the finished conversation. Persistence is
// best-effort: a storage failure is logged, not surfaced as a run error.
func (c *Controller) persistThread(ctx context.Context, h *runHandle) {
	if c.threadStore == nil {
		return
	}

	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		return
	}
	if c.threadID == "" {
		c.threadID = "thread_" + uuid.New().String()
	}
	thread := &domain.Thread{
		ID:       c.threadID,
		Title:    threadTitle(c.messages),
		Messages: domain.CopyMessages(c.messages),
	}
	c.mu.Unlock()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.threadStore.UpsertThread(persistCtx, thread); err != nil {
		c.logger.Error("failed to persist thread",
			slog.String("thread_id", thread.ID),
			slog.String("error", err.Error()))
	}
}

// settleTransportError maps a transport failure to the right terminal
// state: user stop settles cancelled silently, a handshake timeout settles
// failed with ErrTimeout, anything else settles failed with the error.
func (c *Controller) settleTransportError(h *runHandle, err error) {
	c.mu.Lock()
	stopped, timedOut := h.stopped, h.timedOut
	c.mu.Unlock()

	switch {
	case stopped:
		// Stop already transitioned the state; nothing to report.
	case timedOut:
		c.settle(h, StateFailed, fmt.Errorf("%w after %s", ErrTimeout, c.connectTimeout))
	default:
		c.settle(h, StateFailed, err)
	}
}

// settle performs the single terminal transition for a run and reports err
// to the error observer exactly once.
func (c *Controller) settle(h *runHandle, state State, err error) {
	c.mu.Lock()
	if c.active != h || c.state.Settled() {
		c.mu.Unlock()
		return
	}
	clearProgress(c.messages)
	changed := c.setStateLocked(state)
	c.mu.Unlock()
	c.notifyState(changed, state)

	if err != nil {
		c.logger.Error("run failed", slog.String("error", err.Error()))
		if c.onError != nil {
			c.onError(err)
		}
	}
}

// setStateLocked transitions state and reports whether it changed. Caller
// holds c.mu; notification happens after unlock via notifyState so an
// observer can call back into the controller.
func (c *Controller) setStateLocked(state State) bool {
	if c.state == state {
		return false
	}
	c.state = state
	return true
}

func (c *Controller) notifyState(changed bool, state State) {
	if changed && c.onState != nil {
		c.onState(state)
	}
}

// clearProgress drops in-progress flags so no message remains marked in
// progress once a run settles.
func clearProgress(messages []domain.Message) {
	for i := range messages {
		if messages[i].Metadata != nil {
			messages[i].Metadata["progress"] = false
		}
	}
}

// RunRequest is the wire shape of a run submission: the conversation
// history mapped to the backend's role vocabulary, the free-form run
// configuration, and a client-generated correlation id echoed back for
// debugging.
type RunRequest struct {
	Messages      []WireMessage  `json:"messages"`
	Config        map[string]any `json:"config,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}

// WireMessage is one history entry as the backend expects it.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewRunRequest builds the outbound request payload for a run.
func NewRunRequest(history []domain.Message, cfg RunConfig) RunRequest {
	req := RunRequest{
		Messages:      make([]WireMessage, 0, len(history)),
		CorrelationID: uuid.New().String(),
		Config:        map[string]any{},
	}
	for _, msg := range history {
		req.Messages = append(req.Messages, WireMessage{
			Role:    msg.Role.WireRole(),
			Content: msg.Content,
		})
	}
	if cfg.Model != "" {
		req.Config["model"] = cfg.Model
	}
	if cfg.SearchEffort != "" {
		req.Config["search_effort"] = cfg.SearchEffort
	}
	for k, v := range cfg.Toggles {
		req.Config[k] = v
	}
	if len(req.Config) == 0 {
		req.Config = nil
	}
	return req
}

// threadTitle derives a stored-thread title from the first human message,
// truncating on a rune boundary so multi-byte content stays valid UTF-8.
func threadTitle(messages []domain.Message) string {
	for _, msg := range messages {
		if msg.Role == domain.RoleHuman && msg.Content != "" {
			title := msg.Content
			if len(title) > 80 {
				cut := 77
				for cut > 0 && !utf8.RuneStart(title[cut]) {
					cut--
				}
				title = title[:cut] + "..."
			}
			return title
		}
	}
	return "Untitled thread"
}
