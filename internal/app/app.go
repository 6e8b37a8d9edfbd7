// Package app wires the assistant core together: configuration, logging,
// snapshot storage, the SSE transport, the session store and the
// feedback prompter, plus an interactive console loop for development.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bc-assistant/core/internal/config"
	"bc-assistant/core/internal/logging"
	"bc-assistant/core/internal/model"
	"bc-assistant/core/internal/prompter"
	"bc-assistant/core/internal/session"
	"bc-assistant/core/internal/storage"
	"bc-assistant/core/internal/telemetry"
	"bc-assistant/core/internal/transport/sse"
)

func Run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	telemetry.MustRegister()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	snapshots, cleanup, err := buildSnapshotStore(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize snapshot storage")
		return 1
	}
	defer cleanup()

	client := sse.NewClient(cfg.AssistantURL, log)
	store := session.NewStore(client, snapshots, log)
	client.Initialize(store)

	if err := client.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("assistant service unreachable, submissions will be skipped until it recovers")
	}

	fp := prompter.New(store, prompter.Config{
		ArmWindow:      cfg.FeedbackArmWindow,
		FollowUpWindow: cfg.FeedbackFollowUpWindow,
	}, log)
	fp.Start()
	defer fp.Stop()

	store.SetView(model.ViewNewChat)
	log.Info().Str("assistant_url", cfg.AssistantURL).Msg("assistant session started")

	runConsole(ctx, store, fp, client, log)
	return 0
}

func buildSnapshotStore(cfg *config.Config, log *zerolog.Logger) (storage.SnapshotStore, func(), error) {
	consent := storage.StaticConsent(cfg.StorageConsent)

	switch cfg.StorageBackend {
	case "sqlite":
		db, err := storage.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		guarded := storage.NewGuarded(storage.NewSQLiteStore(db), consent, log)
		return guarded, func() { _ = db.Close() }, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		guarded := storage.NewGuarded(storage.NewRedisStore(rdb, 24*time.Hour), consent, log)
		return guarded, func() { _ = rdb.Close() }, nil
	default:
		return storage.NewNoop(), func() {}, nil
	}
}

func serveMetrics(addr string, log *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server failed")
	}
}

// runConsole is a development harness: each input line is submitted as a
// query; streamed segments are echoed as they arrive. Slash commands
// exercise the remaining session operations.
func runConsole(ctx context.Context, store *session.Store, fp *prompter.Prompter, client *sse.Client, log *zerolog.Logger) {
	printer := newStreamPrinter()
	unsubscribe := store.Subscribe(printer.observe)
	defer unsubscribe()

	fmt.Println("type a question, or /threads /discover /search <q> /rate <code> /last /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		fp.RecordInteraction()

		if strings.HasPrefix(line, "/") {
			if quit := handleCommand(ctx, line, store, client, log); quit {
				return
			}
			continue
		}

		status, err := store.SubmitQuery(ctx, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		if status != session.SubmitAccepted {
			fmt.Printf("skipped: %s\n", status)
			continue
		}
		printer.waitForAnswer(store)
	}
}

func handleCommand(ctx context.Context, line string, store *session.Store, client *sse.Client, log *zerolog.Logger) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return true
	case "/threads":
		if err := store.FetchThreads(ctx); err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		for _, t := range store.Snapshot().Threads {
			fmt.Printf("  [%d] %s (unread %d)\n", t.ID, t.Title, t.NrOfUnreadMessages)
		}
	case "/discover":
		store.SetView(model.ViewDiscover)
		if err := store.FetchQuestions(ctx); err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		for _, q := range store.Snapshot().DiscoverQuestions {
			fmt.Printf("  [%d] %s\n", q.ID, q.Text)
		}
	case "/search":
		store.SetView(model.ViewSearch)
		status, err := store.SubmitSearchQuery(ctx, arg)
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else if status != session.SubmitAccepted {
			fmt.Printf("skipped: %s\n", status)
		}
	case "/rate":
		code, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Println("usage: /rate <code>")
			return false
		}
		snap := store.Snapshot()
		if snap.CurrentThreadID == nil {
			fmt.Println("no current thread")
			return false
		}
		if err := store.AnswerFeedbackPrompt(ctx, *snap.CurrentThreadID, []int{code}); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	case "/last":
		fmt.Printf("last query: %q\n", store.LastQuery(ctx))
	case "/reconnect":
		if err := client.Reconnect(ctx); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	default:
		log.Debug().Str("command", cmd).Msg("unknown console command")
		fmt.Println("unknown command")
	}
	return false
}

// streamPrinter echoes streamed answer text as it is appended to the
// in-flight message buffer.
type streamPrinter struct {
	mu      sync.Mutex
	printed int
}

func newStreamPrinter() *streamPrinter { return &streamPrinter{} }

func (p *streamPrinter) observe(st session.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st.IncomingMessage == nil {
		p.printed = 0
		return
	}
	text := st.IncomingMessage.Text
	if len(text) > p.printed {
		fmt.Print(text[p.printed:])
		p.printed = len(text)
	}
}

func (p *streamPrinter) waitForAnswer(store *session.Store) {
	for store.IsGenerating() {
		time.Sleep(50 * time.Millisecond)
	}
	snap := store.Snapshot()
	fmt.Println()
	if n := len(snap.CurrentThreadMessages); n > 0 {
		last := snap.CurrentThreadMessages[n-1]
		for _, src := range last.Sources {
			fmt.Printf("  source: %s (%s)\n", src.Title, src.URL)
		}
	}
}
