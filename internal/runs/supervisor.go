// Package runs manages detachable background runs. Unlike runner, where a
// run lives and dies with the client connection, a supervised run is
// addressed by a server-issued run id and survives the client: the
// supervisor can disconnect, reconnect from a step cursor, or ask the
// server to cancel the run outright. Frames on the step stream carry step
// numbers; the supervisor drops already-seen steps so at-least-once
// delivery never double-applies a delta.
package runs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/helixworks/bioagent-client/internal/auth"
	"github.com/helixworks/bioagent-client/internal/conversation"
	"github.com/helixworks/bioagent-client/internal/domain"
	"github.com/helixworks/bioagent-client/internal/runner"
	"github.com/helixworks/bioagent-client/internal/stream"
)

// Supervisor tracks one background run and its step stream. Methods are
// safe for concurrent use; stream processing happens on a single goroutine
// per connection, and a new connection always supersedes the previous one.
type Supervisor struct {
	baseURL       string
	httpClient    *http.Client
	logger        *slog.Logger
	tokenProvider auth.TokenProvider
	terminalNode  string
	enrichNode    string

	onFrame runner.FrameObserver
	onError runner.ErrorObserver

	mu       sync.Mutex
	state    domain.RunState
	messages []domain.Message
	reducer  *conversation.Reducer
	conn     *connHandle
}

type connHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Supervisor) { s.httpClient = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithTokenProvider injects the bearer token source.
func WithTokenProvider(tp auth.TokenProvider) Option {
	return func(s *Supervisor) { s.tokenProvider = tp }
}

// WithTerminalNode overrides the terminal node name.
func WithTerminalNode(node string) Option {
	return func(s *Supervisor) { s.terminalNode = node }
}

// WithEnrichNode overrides the structure-lookup node name.
func WithEnrichNode(node string) Option {
	return func(s *Supervisor) { s.enrichNode = node }
}

// OnFrame registers a progress observer.
func OnFrame(fn runner.FrameObserver) Option {
	return func(s *Supervisor) { s.onFrame = fn }
}

// OnError registers the error observer.
func OnError(fn runner.ErrorObserver) Option {
	return func(s *Supervisor) { s.onError = fn }
}

// NewSupervisor creates a supervisor for the backend at baseURL.
func NewSupervisor(baseURL string, opts ...Option) *Supervisor {
	s := &Supervisor{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		logger:       slog.Default(),
		terminalNode: runner.TerminalNode,
		enrichNode:   runner.EnrichNode,
		state:        domain.RunState{Status: domain.RunPending},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return s
}

// State returns a snapshot of the run state.
func (s *Supervisor) State() domain.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a snapshot of the conversation. Metadata maps are
// deep-copied so the snapshot never races with the consume goroutine's
// merges.
func (s *Supervisor) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CopyMessages(s.messages)
}

// StartRun posts the conversation, obtains the server-issued run id (the
// run then exists server-side independent of this client), and connects to
// its step stream from step 0.
func (s *Supervisor) StartRun(ctx context.Context, history []domain.Message, cfg runner.RunConfig) (string, error) {
	body, err := json.Marshal(runner.NewRunRequest(history, cfg))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := s.authorize(ctx, req); err != nil {
		return "", err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var started struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return "", fmt.Errorf("failed to decode run response: %w", err)
	}
	if started.RunID == "" {
		return "", errors.New("backend returned no run id")
	}

	placeholderID := domain.NewMessageID()
	placeholder := domain.Message{ID: placeholderID, Role: domain.RoleAI}
	placeholder.SetMeta("progress", true)

	s.mu.Lock()
	s.state = domain.RunState{RunID: started.RunID, Status: domain.RunRunning}
	s.messages = make([]domain.Message, 0, len(history)+1)
	s.messages = append(s.messages, history...)
	s.messages = append(s.messages, placeholder)
	s.reducer = conversation.NewReducer(s.terminalNode, s.enrichNode, placeholderID)
	s.mu.Unlock()

	if err := s.ConnectToStream(ctx, started.RunID, 0); err != nil {
		return started.RunID, err
	}
	return started.RunID, nil
}

// ConnectToStream opens the step stream for runID resuming from fromStep.
// It fully supersedes any prior connection for the run: the old stream is
// torn down before the new one starts, so two readers never race on the
// conversation.
func (s *Supervisor) ConnectToStream(ctx context.Context, runID string, fromStep int) error {
	s.Disconnect()

	s.mu.Lock()
	if s.reducer == nil {
		// Attaching to a run this supervisor did not start.
		placeholderID := domain.NewMessageID()
		placeholder := domain.Message{ID: placeholderID, Role: domain.RoleAI}
		placeholder.SetMeta("progress", true)
		s.messages = append(s.messages, placeholder)
		s.reducer = conversation.NewReducer(s.terminalNode, s.enrichNode, placeholderID)
	}
	s.state.RunID = runID
	if !s.state.Status.Terminal() {
		s.state.Status = domain.RunRunning
	}
	s.mu.Unlock()

	endpoint := fmt.Sprintf("%s/v1/runs/%s/stream?from_step=%s",
		s.baseURL, url.PathEscape(runID), strconv.Itoa(fromStep))
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if err := s.authorize(ctx, req); err != nil {
		cancel()
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	h := &connHandle{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.conn = h
	s.mu.Unlock()

	go s.consume(connCtx, h, resp.Body)
	return nil
}

// Reconnect reopens the step stream. fromStep nil resumes from the
// supervisor's own cursor, so replayed history starts exactly after the
// last observed step.
func (s *Supervisor) Reconnect(ctx context.Context, runID string, fromStep *int) error {
	step := s.State().LastStep
	if fromStep != nil {
		step = *fromStep
	}
	return s.ConnectToStream(ctx, runID, step)
}

// CancelRun asks the server to cancel the run. This is distinct from
// Disconnect: the run stops server-side for every attached client.
func (s *Supervisor) CancelRun(ctx context.Context, runID string) error {
	endpoint := fmt.Sprintf("%s/v1/runs/%s/cancel", s.baseURL, url.PathEscape(runID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if err := s.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	s.mu.Lock()
	s.state.Status = domain.RunCancelled
	s.mu.Unlock()
	s.Disconnect()
	return nil
}

// Disconnect tears down the client's listening connection without
// affecting the server-side run. Safe to call when not connected.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	h := s.conn
	s.conn = nil
	s.mu.Unlock()

	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}

// consume is the per-connection read loop.
func (s *Supervisor) consume(ctx context.Context, h *connHandle, body io.ReadCloser) {
	defer close(h.done)
	defer body.Close()

	decoder := &stream.LineDecoder{}
	classifier := stream.NewClassifier(s.terminalNode)

	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range decoder.Feed(string(buf[:n])) {
				s.applyLine(h, classifier, line)
			}
		}
		if readErr != nil {
			if line, ok := decoder.Flush(); ok {
				s.applyLine(h, classifier, line)
			}
			if errors.Is(readErr, io.EOF) {
				s.finish()
				return
			}
			if ctx.Err() != nil {
				// Local disconnect, not a failure.
				return
			}
			s.fail(fmt.Errorf("stream read error: %w", readErr))
			return
		}
	}
}

// applyLine classifies one line, advances the step cursor, and reduces the
// frame. Frames whose step was already observed are dropped: that is the
// transport-level replay protection that keeps delta accumulation safe
// under at-least-once delivery.
func (s *Supervisor) applyLine(h *connHandle, classifier *stream.Classifier, line string) {
	frame := classifier.Classify(line)
	if frame == nil || frame.Keepalive {
		return
	}

	s.mu.Lock()
	if s.conn != h {
		s.mu.Unlock()
		return
	}
	if frame.HasStep && !s.state.ObserveStep(frame.Step) {
		s.mu.Unlock()
		return
	}
	s.messages = s.reducer.Apply(s.messages, frame)
	s.mu.Unlock()

	if s.onFrame != nil {
		s.onFrame(frame)
	}
}

func (s *Supervisor) finish() {
	s.mu.Lock()
	if !s.state.Status.Terminal() {
		s.state.Status = domain.RunCompleted
	}
	for i := range s.messages {
		if s.messages[i].Metadata != nil {
			s.messages[i].Metadata["progress"] = false
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	alreadyTerminal := s.state.Status.Terminal()
	if !alreadyTerminal {
		s.state.Status = domain.RunFailed
		s.state.Error = err.Error()
	}
	s.mu.Unlock()

	if alreadyTerminal {
		return
	}
	s.logger.Error("run stream failed", slog.String("error", err.Error()))
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Supervisor) authorize(ctx context.Context, req *http.Request) error {
	if s.tokenProvider == nil {
		return nil
	}
	token, err := s.tokenProvider.Token(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to acquire token: %w", err)
	}
	auth.Authorize(req, token)
	return nil
}
