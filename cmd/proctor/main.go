package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/proctor/internal/events"
	"github.com/pavelanni/proctor/internal/exam"
	"github.com/pavelanni/proctor/internal/game"
	"github.com/pavelanni/proctor/internal/grading"
	"github.com/pavelanni/proctor/internal/handler"
	appI18n "github.com/pavelanni/proctor/internal/i18n"
	"github.com/pavelanni/proctor/internal/llm"
	"github.com/pavelanni/proctor/internal/llm/prompts"
	"github.com/pavelanni/proctor/internal/metrics"
	"github.com/pavelanni/proctor/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "proctor",
		Short: "Timed exams, essay grading and learning games",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), migrateCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `proctor --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// addStoreFlags registers the flags every command needs to reach the
// database and log.
func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", store.DriverSQLite, "Database driver (sqlite, postgres)")
	f.String("db", "proctor.db", "SQLite path or PostgreSQL connection URL")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	f.String("admin-password", "", "Initial admin password (or set PROCTOR_ADMIN_PASSWORD)")
	f.StringSlice("users", nil, "Users JSON files to import (repeatable)")
	f.StringSlice("exams", nil, "Exams JSON files to import (repeatable)")
	f.StringSlice("games", nil, "Games JSON files to import (repeatable)")
	f.String("amqp-url", "", "RabbitMQ URL for domain events (empty disables)")
	f.String("amqp-exchange", "proctor.events", "RabbitMQ topic exchange for domain events")
	f.String("llm-url", "", "OpenAI-compatible API base URL for grade suggestions (empty disables)")
	f.String("llm-key", "", "API key for the LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.Standard), "Grading prompt variant (strict, standard, lenient)")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (repeatable)")
	f.Duration("game-session-ttl", game.DefaultSessionTTL, "Idle time after which a game session is dropped")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an exam gradebook as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.String("exam-id", "", "Exam to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		RunE:  runMigrate,
	}
	addStoreFlags(cmd)
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PROCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("proctor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/proctor")
	v.AddConfigPath("/etc/proctor")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(v *viper.Viper) (*store.Store, error) {
	db, err := store.Open(v.GetString("db-driver"), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// publisher builds the event fan-out: the database log always, RabbitMQ
// when a URL is configured. The returned func closes the broker link.
func publisher(v *viper.Viper, db *store.Store) (events.Publisher, func(), error) {
	pubs := events.Multi{events.NewLog(db)}
	url := v.GetString("amqp-url")
	if url == "" {
		return pubs, func() {}, nil
	}
	broker, err := events.DialAMQP(url, v.GetString("amqp-exchange"))
	if err != nil {
		return nil, nil, err
	}
	slog.Info("publishing events to RabbitMQ", "exchange", v.GetString("amqp-exchange"))
	return append(pubs, broker), func() { _ = broker.Close() }, nil
}

// suggester returns the LLM grading assistant, or nil when none is
// configured.
func suggester(v *viper.Viper) (grading.Suggester, error) {
	url := v.GetString("llm-url")
	if url == "" {
		return nil, nil
	}
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.Standard)
	}
	client, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), prompts.Variant(variant))
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	slog.Info("grade suggestions enabled", "url", url, "model", v.GetString("llm-model"), "variant", variant)
	return client, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := importAll(ctx, db, v.GetStringSlice("users"), v.GetStringSlice("exams"), v.GetStringSlice("games")); err != nil {
		return err
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	pub, closePub, err := publisher(v, db)
	if err != nil {
		return err
	}
	defer closePub()

	// The gauge is read on scrape, after exams is set.
	var exams *exam.Controller
	m := metrics.New(func() int { return exams.ActiveCountdowns() })
	exams = exam.New(db, db, exam.WithEvents(pub), exam.WithMetrics(m))
	defer exams.Close()

	benchOpts := []grading.Option{grading.WithEvents(pub), grading.WithMetrics(m)}
	s, err := suggester(v)
	if err != nil {
		return err
	}
	if s != nil {
		benchOpts = append(benchOpts, grading.WithSuggester(s))
	}
	bench := grading.New(db, benchOpts...)

	host := game.NewHost(db,
		game.WithTTL(v.GetDuration("game-session-ttl")),
		game.WithEvents(pub),
		game.WithMetrics(m),
	)
	go host.Run(ctx)

	armed, submitted, err := exams.RecoverAll(ctx)
	if err != nil {
		return fmt.Errorf("recover exam sessions: %w", err)
	}
	slog.Info("exam sessions recovered", "armed", armed, "submitted", submitted)

	go cleanupSessions(ctx, db)

	h := handler.New(db, exams, bench, host, m, handler.Config{
		Lang:        lang,
		CORSOrigins: v.GetStringSlice("cors-origins"),
	})
	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"db_driver", db.Driver(),
			"lang", lang,
			"locales", appI18n.Languages(),
			"amqp", v.GetString("amqp-url") != "",
			"llm", s != nil,
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// cleanupSessions drops expired login sessions once an hour.
func cleanupSessions(ctx context.Context, db *store.Store) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := db.CleanupExpiredSessions(ctx)
			if err != nil {
				slog.Error("cleanup expired sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("removed expired login sessions", "count", n)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportExam(cmd.Context(), v.GetString("exam-id"))
	if err != nil {
		return fmt.Errorf("export exam: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	slog.Info("exported gradebook", "exam", export.ExamID, "results", len(export.Results))
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := db.MigrationVersion()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	slog.Info("database is up to date", "driver", db.Driver(), "version", version, "dirty", dirty)
	return nil
}
