// Command bioagent is a development harness for the streaming client: an
// interactive terminal chat against a running agent backend.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/helixworks/bioagent-client/internal/auth"
	"github.com/helixworks/bioagent-client/internal/config"
	"github.com/helixworks/bioagent-client/internal/domain"
	"github.com/helixworks/bioagent-client/internal/runner"
	"github.com/helixworks/bioagent-client/internal/storage"
	"github.com/helixworks/bioagent-client/internal/storage/memory"
	"github.com/helixworks/bioagent-client/internal/storage/sqlite"
	"github.com/helixworks/bioagent-client/internal/stream"
	"github.com/helixworks/bioagent-client/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "bioagent.yaml", "path to config file")
	threadID := flag.String("thread", "", "thread id to resume")
	verbose := flag.Bool("verbose", false, "print raw progress frames")
	flag.Parse()

	// Best-effort; a missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	shutdown, err := telemetry.Init("bioagent-client", logger)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer shutdown(context.Background())

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open thread store: %v", err)
	}

	var history []domain.Message
	if store != nil && *threadID != "" {
		thread, err := store.GetThread(context.Background(), *threadID)
		switch {
		case err == nil:
			history = thread.Messages
			fmt.Printf("Resumed thread %s (%d messages)\n", thread.ID, len(thread.Messages))
		case errors.Is(err, storage.ErrNotFound):
			fmt.Printf("Starting new thread %s\n", *threadID)
		default:
			log.Fatalf("Failed to load thread: %v", err)
		}
	}

	settled := make(chan runner.State, 8)

	opts := []runner.Option{
		runner.WithLogger(logger),
		runner.WithConnectTimeout(cfg.Backend.ConnectTimeout),
		runner.OnStateChange(func(s runner.State) {
			if s.Settled() {
				settled <- s
			}
		}),
		runner.OnError(func(err error) {
			fmt.Fprintf(os.Stderr, "run error: %v\n", err)
		}),
		runner.OnFrame(func(f *stream.Frame) {
			if *verbose {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", f.Node, f.Raw)
			} else if !f.Terminal {
				fmt.Fprintf(os.Stderr, "... %s\n", f.Node)
			}
		}),
	}
	if cfg.Backend.AuthToken != "" {
		opts = append(opts, runner.WithTokenProvider(auth.Static(cfg.Backend.AuthToken)))
	}
	if store != nil {
		opts = append(opts, runner.WithThreadStore(store, *threadID))
	}

	ctrl := runner.New(cfg.Backend.BaseURL, opts...)

	runCfg := runner.RunConfig{
		Model:        cfg.Run.Model,
		SearchEffort: cfg.Run.SearchEffort,
		Toggles:      cfg.Run.Toggles,
	}

	fmt.Printf("Connected to %s (model %s). Ctrl-D to exit.\n", cfg.Backend.BaseURL, runCfg.Model)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		history = append(history, domain.Message{
			ID:      domain.NewMessageID(),
			Role:    domain.RoleHuman,
			Content: input,
		})

		if err := ctrl.Submit(context.Background(), history, runCfg); err != nil {
			fmt.Fprintf(os.Stderr, "submit failed: %v\n", err)
			continue
		}

		state := <-settled
		history = ctrl.Messages()
		if state == runner.StateCompleted {
			printAnswer(history)
		} else {
			fmt.Fprintf(os.Stderr, "run %s\n", state)
		}
	}
}

func openStore(cfg *config.Config) (storage.ThreadStore, error) {
	switch cfg.Storage.Type {
	case "sqlite":
		path := cfg.Storage.SQLite.Path
		if path == "" {
			path = "bioagent.db"
		}
		return sqlite.New(path)
	case "memory":
		return memory.New(), nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// printAnswer prints the last ai message with content.
func printAnswer(messages []domain.Message) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleAI && messages[i].Content != "" {
			fmt.Println(messages[i].Content)
			return
		}
	}
	fmt.Println("(no answer)")
}
