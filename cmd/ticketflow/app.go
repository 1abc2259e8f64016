package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	_ "modernc.org/sqlite"

	"github.com/petrijr/ticketflow/internal/config"
	"github.com/petrijr/ticketflow/internal/engine"
	"github.com/petrijr/ticketflow/internal/persistence"
	"github.com/petrijr/ticketflow/internal/taskqueue"
	"github.com/petrijr/ticketflow/pkg/api"
	"github.com/petrijr/ticketflow/pkg/directory"
	"github.com/petrijr/ticketflow/pkg/notify"
	"github.com/petrijr/ticketflow/pkg/observe"
	"github.com/petrijr/ticketflow/pkg/worker"
	"github.com/petrijr/ticketflow/pkg/workflows"
)

// app holds the wired components of a running server.
type app struct {
	engine   api.Engine
	worker   *worker.Worker
	queue    taskqueue.Queue
	metrics  *api.BasicMetrics
	tickets  directory.Store
	registry *prometheus.Registry // nil when metrics are disabled

	closers []func() error
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{metrics: &api.BasicMetrics{}}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, db, rdb, err := a.openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if a.queue, err = a.openQueue(ctx, cfg.Queue, db, rdb); err != nil {
		return nil, err
	}

	observers := []api.Observer{api.NewLoggingObserver(logger), a.metrics}
	if cfg.Telemetry.Metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		observers = append(observers, observe.NewPrometheusObserver(a.registry))
	}
	if cfg.Telemetry.Tracing {
		tp := observe.NewTracerProvider(logger)
		otel.SetTracerProvider(tp)
		a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })
		observers = append(observers, observe.NewTracingObserver())
	}

	a.engine = engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.FromStore(store),
		Observer:    api.NewCompositeObserver(observers...),
		LeaseTTL:    cfg.Store.LeaseTTL,
	})

	if a.tickets, err = a.openDirectory(ctx, cfg.Directory); err != nil {
		return nil, err
	}
	if err := workflows.Register(a.engine, workflows.Deps{
		Directory: a.tickets,
		Mailer:    newMailer(cfg.SMTP, logger),
	}); err != nil {
		return nil, fmt.Errorf("register workflows: %w", err)
	}

	a.worker = worker.NewWithConfig(a.engine, a.queue, worker.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		Backoff:     cfg.Worker.Backoff,
		LeaseRetry:  cfg.Worker.LeaseRetry,
		Logger:      logger,
	})
	return a, nil
}

// openStore returns the run store and, when one was opened, the SQL
// database or Redis client behind it so the queue can share it.
func (a *app) openStore(ctx context.Context, cfg config.StoreConfig) (persistence.Store, *sql.DB, *redis.Client, error) {
	switch cfg.Driver {
	case "memory":
		return persistence.NewInMemoryStore(), nil, nil, nil

	case "redis":
		rdb, err := a.openRedis(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return persistence.NewRedisStore(rdb, cfg.Prefix), nil, rdb, nil

	case "sqlite", "postgres", "mysql":
		dialects := map[string]struct {
			driver  string
			dialect persistence.Dialect
		}{
			"sqlite":   {"sqlite", persistence.SQLite},
			"postgres": {"pgx", persistence.Postgres},
			"mysql":    {"mysql", persistence.MySQL},
		}
		d := dialects[cfg.Driver]

		db, err := sql.Open(d.driver, cfg.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
		}
		a.closers = append(a.closers, db.Close)
		if cfg.Driver == "sqlite" {
			// One writer at a time avoids SQLITE_BUSY under concurrent workers.
			db.SetMaxOpenConns(1)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("connect %s store: %w", cfg.Driver, err)
		}
		store, err := persistence.NewSQLStore(ctx, db, d.dialect)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, db, nil, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *app) openQueue(ctx context.Context, cfg config.QueueConfig, storeDB *sql.DB, storeRedis *redis.Client) (taskqueue.Queue, error) {
	switch cfg.Driver {
	case "memory":
		return taskqueue.NewInMemoryQueue(), nil

	case "sqlite":
		db := storeDB
		if cfg.DSN != "" {
			var err error
			if db, err = sql.Open("sqlite", cfg.DSN); err != nil {
				return nil, fmt.Errorf("open sqlite queue: %w", err)
			}
			a.closers = append(a.closers, db.Close)
			db.SetMaxOpenConns(1)
		}
		return taskqueue.NewSQLiteQueue(ctx, db)

	case "redis":
		rdb := storeRedis
		if cfg.DSN != "" {
			var err error
			if rdb, err = a.openRedis(ctx, cfg.DSN); err != nil {
				return nil, err
			}
		}
		return taskqueue.NewRedisQueue(rdb, ""), nil

	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

// openRedis accepts either a redis:// URL or a bare host:port.
func (a *app) openRedis(ctx context.Context, dsn string) (*redis.Client, error) {
	opts := &redis.Options{Addr: dsn}
	if strings.Contains(dsn, "://") {
		var err error
		if opts, err = redis.ParseURL(dsn); err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
	}
	rdb := redis.NewClient(opts)
	a.closers = append(a.closers, rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

func (a *app) openDirectory(ctx context.Context, cfg config.DirectoryConfig) (directory.Store, error) {
	var dir directory.Store
	switch cfg.Driver {
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.closers = append(a.closers, func() error { return client.Disconnect(context.Background()) })

		md := directory.NewMongoDirectory(client, cfg.Database)
		if err := md.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo directory indexes: %w", err)
		}
		dir = md
	default:
		dir = directory.NewMemoryDirectory()
	}

	for _, u := range cfg.Users {
		if err := dir.SaveUser(ctx, seedUser(u)); err != nil {
			return nil, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	return dir, nil
}

func seedUser(u config.SeedUser) directory.User {
	id := u.ID
	if id == "" {
		id = u.Email
	}
	role := directory.Role(u.Role)
	if role == "" {
		role = directory.RoleUser
	}
	return directory.User{ID: id, Email: u.Email, Role: role, Skills: u.Skills}
}

func newMailer(cfg config.SMTPConfig, logger *slog.Logger) notify.Mailer {
	if cfg.Host == "" {
		return notify.LogMailer{Logger: logger}
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Timeout:  cfg.Timeout,
	})
}
