// Package cli implements the interactive SquadUp client shell. It wires the
// local database, the credential store, the request executor and the offline
// queue together, and exposes them through a small REPL.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/squadup/mobilecore/internal/api"
	"github.com/squadup/mobilecore/internal/config"
	"github.com/squadup/mobilecore/internal/connectivity"
	"github.com/squadup/mobilecore/internal/credentials"
	"github.com/squadup/mobilecore/internal/cryptox"
	"github.com/squadup/mobilecore/internal/logging"
	"github.com/squadup/mobilecore/internal/queue"
	"github.com/squadup/mobilecore/internal/repositories/kv"
	"github.com/squadup/mobilecore/internal/services"
	"github.com/squadup/mobilecore/internal/storage"

	_ "modernc.org/sqlite"
)

const deviceSecretLen = 32

// App is the assembled client: one database handle, one executor, one queue.
type App struct {
	config   *config.Config
	auth     *services.AuthService
	requests *services.RequestService
	queue    *queue.Queue
	hub      *connectivity.Hub
	prober   *connectivity.Prober
	log      logging.Logger
	db       *sql.DB
	reader   *bufio.Reader
	loggedIn bool
}

func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	if log == nil {
		log = logging.NewNop()
	}

	db, err := storage.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	secret, err := loadDeviceSecret(cfg.DatabasePath + ".key")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("loading device secret: %w", err)
	}

	repo := kv.NewSQLiteRepository(db)
	creds := credentials.NewSQLiteStore(repo, secret)

	exec := api.NewExecutor(cfg.ServerBaseURL, creds, api.Policy{
		MaxAttempts:       cfg.MaxAttempts,
		BaseDelay:         cfg.BaseDelay,
		MaxDelay:          cfg.MaxDelay,
		RetryAfterDefault: cfg.RetryAfterDefault,
		RequestTimeout:    cfg.RequestTimeout,
	}, log)

	hub := connectivity.NewHub()
	q := queue.New(
		queue.NewKVStore(repo, queue.PendingKey),
		queue.NewKVStore(repo, queue.DeadLetterKey),
		exec, hub,
		queue.Options{DeadLetterAfter: cfg.DeadLetterAfter, Log: log},
	)

	app := &App{
		config:   cfg,
		auth:     services.NewAuthService(exec, creds, log),
		requests: services.NewRequestService(exec, q, log),
		queue:    q,
		hub:      hub,
		prober:   connectivity.NewProber(hub, exec.Ping, cfg.OnlineCheckInterval, log),
		log:      log,
		db:       db,
		reader:   bufio.NewReader(os.Stdin),
	}

	if ok, err := app.auth.LoggedIn(ctx); err == nil {
		app.loggedIn = ok
	}
	return app, nil
}

// loadDeviceSecret reads the per-device encryption secret, creating it on
// first run. The file sits next to the database and must stay private to the
// user.
func loadDeviceSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil && len(secret) == deviceSecretLen {
		return secret, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	secret = cryptox.RandBytes(deviceSecretLen)
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}

// Run starts the connectivity prober and the REPL, and tears both down when
// the user exits.
func (a *App) Run(ctx context.Context) {
	proberCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.prober.Run(proberCtx)

	scanner := bufio.NewScanner(os.Stdin)
	printlnFn("SquadUp client (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, scanner)

	a.queue.Close()
	_ = a.db.Close()
}

func (a *App) isLoggedIn() bool {
	return a.loggedIn
}

func (a *App) getStatus() string {
	mode := "offline"
	if a.hub.Online() {
		mode = "online"
	}
	if n, err := a.queue.Size(context.Background()); err == nil && n > 0 {
		return fmt.Sprintf("(%s, %d pending)", mode, n)
	}
	return fmt.Sprintf("(%s)", mode)
}

// Login prompts for credentials and stores the session on success.
func (a *App) Login(ctx context.Context) error {
	login, err := GetSimpleText(a.reader, "Enter login:", os.Stdout)
	if err != nil {
		return err
	}
	password, err := GetPassword(os.Stdout)
	if err != nil {
		return err
	}

	if err := a.auth.Login(ctx, login, string(password)); err != nil {
		printlnFn("Login failed:", err)
		return err
	}
	a.loggedIn = true
	printlnFn("Logged in as", login)
	return nil
}

// Logout discards the stored session.
func (a *App) Logout(ctx context.Context) error {
	if err := a.auth.Logout(ctx); err != nil {
		printlnFn("Logout failed:", err)
		return err
	}
	a.loggedIn = false
	printlnFn("Logged out")
	return nil
}

// Get performs a GET request against path and prints the response body.
func (a *App) Get(ctx context.Context, path string) error {
	res, err := a.requests.Submit(ctx, api.Descriptor{Method: "GET", Path: path})
	if err != nil {
		printlnFn("Request failed:", err)
		return err
	}
	printlnFn(fmt.Sprintf("HTTP %d", res.Response.StatusCode))
	if len(res.Response.Body) > 0 {
		printlnFn(string(res.Response.Body))
	}
	return nil
}

// Send prompts for a message body and posts it to path. While offline the
// mutation is queued for later delivery.
func (a *App) Send(ctx context.Context, path string) error {
	text, err := GetSimpleText(a.reader, "Message text:", os.Stdout)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}

	res, err := a.requests.Submit(ctx, api.Descriptor{Method: "POST", Path: path, Body: body})
	if err != nil {
		printlnFn("Send failed:", err)
		return err
	}
	if res.Queued() {
		printlnFn("Offline: message queued as", res.QueuedID)
		return nil
	}
	printlnFn(fmt.Sprintf("Sent (HTTP %d)", res.Response.StatusCode))
	return nil
}

// ShowQueue prints the pending and parked mutations.
func (a *App) ShowQueue(ctx context.Context) error {
	n, err := a.requests.PendingCount(ctx)
	if err != nil {
		printlnFn("Queue unavailable:", err)
		return err
	}
	printlnFn(fmt.Sprintf("%d pending mutation(s)", n))

	dead, err := a.queue.DeadLetters(ctx)
	if err != nil {
		return err
	}
	for _, m := range dead {
		printlnFn(fmt.Sprintf("parked: %s %s %s (after %d attempts)", m.ID, m.Descriptor.Method, m.Descriptor.Path, m.Attempts))
	}
	return nil
}

// Drain flushes the pending queue immediately.
func (a *App) Drain(ctx context.Context) error {
	if err := a.requests.Drain(ctx); err != nil {
		printlnFn("Drain failed:", err)
		return err
	}
	n, err := a.requests.PendingCount(ctx)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Drain finished, %d left", n))
	return nil
}

// ClearQueue discards every pending mutation.
func (a *App) ClearQueue(ctx context.Context) error {
	if err := a.requests.ClearPending(ctx); err != nil {
		printlnFn("Clear failed:", err)
		return err
	}
	printlnFn("Queue cleared")
	return nil
}
