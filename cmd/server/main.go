package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/speles7172/lahak/internal/adapter/handler"
	"github.com/speles7172/lahak/internal/adapter/storage"
	"github.com/speles7172/lahak/internal/config"
	"github.com/speles7172/lahak/internal/core/service"
	"github.com/speles7172/lahak/internal/port"
)

const shutdownTimeout = 5 * time.Second

func main() {
	app := &cli.App{
		Name:  "lahak-server",
		Usage: "inventory ledger sync server",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			seedCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the sync server",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadServer()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			catalog, ledger, cleanup, err := buildStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			locks, err := buildLocks(ctx, cfg)
			if err != nil {
				return err
			}

			svc := service.NewLedgerService(catalog, ledger, locks)
			srv := &http.Server{
				Addr:    cfg.HTTPAddr,
				Handler: handler.NewHTTPHandler(svc, cfg.AssetDir).Router(),
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
				if err := srv.ListenAndServe(); err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil {
				return err
			}
			log.Info("server stopped")
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "down", Usage: "roll back one migration"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadServer()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			m, err := migrate.New("file://"+cfg.MigrationsDir, "mysql://"+cfg.MySQLDSN)
			if err != nil {
				return err
			}
			defer m.Close()

			if c.Bool("down") {
				err = m.Steps(-1)
			} else {
				err = m.Up()
			}
			if err == migrate.ErrNoChange {
				log.Info("no pending migrations")
				return nil
			}
			if err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "load a catalog fixture into MySQL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "fixture yaml", Required: true},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadServer()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			fx, err := storage.ReadFixture(c.String("file"))
			if err != nil {
				return err
			}

			db, err := openMySQL(c.Context, cfg.MySQLDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := storage.SeedMySQL(c.Context, db, fx); err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"locations": len(fx.Locations),
				"users":     len(fx.Users),
				"items":     len(fx.Items),
			}).Info("catalog seeded")
			return nil
		},
	}
}

func setupLogging(cfg config.Server) {
	if cfg.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func buildStorage(ctx context.Context, cfg config.Server) (port.CatalogRepository, port.LedgerRepository, func(), error) {
	switch cfg.Storage {
	case "memory":
		adapter := storage.NewMemoryAdapter()
		if cfg.SeedFile != "" {
			fx, err := storage.ReadFixture(cfg.SeedFile)
			if err != nil {
				return nil, nil, nil, err
			}
			if err := adapter.Load(fx); err != nil {
				return nil, nil, nil, err
			}
			log.WithField("file", cfg.SeedFile).Info("catalog loaded")
		}
		return adapter, adapter, func() {}, nil

	case "mysql":
		db, err := openMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		adapter, err := storage.NewMySQLAdapter(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		log.Info("connected to mysql")
		return adapter, adapter, func() { db.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func buildLocks(ctx context.Context, cfg config.Server) (port.LockManager, error) {
	switch cfg.Lock {
	case "memory":
		return storage.NewMemoryLockManager(cfg.LockWait), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		log.Info("connected to redis")
		return storage.NewRedisLockManager(client, cfg.LockTTL, cfg.LockWait), nil

	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock)
	}
}

func openMySQL(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
