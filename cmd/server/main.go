package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/sepal/config"
	conditionrepo "github.com/Ramsey-B/sepal/internal/repositories/condition"
	projectrepo "github.com/Ramsey-B/sepal/internal/repositories/project"
	userrepo "github.com/Ramsey-B/sepal/internal/repositories/user"
	projectservice "github.com/Ramsey-B/sepal/internal/services/project"
	"github.com/Ramsey-B/sepal/pkg/database"
	"github.com/Ramsey-B/sepal/pkg/kafka"
	"github.com/Ramsey-B/sepal/pkg/middleware"
	"github.com/Ramsey-B/sepal/pkg/routes/health"
	projectroutes "github.com/Ramsey-B/sepal/pkg/routes/project"
	"github.com/Ramsey-B/sepal/pkg/startup"
	"github.com/Ramsey-B/sepal/pkg/tracing"
	"github.com/Ramsey-B/sepal/pkg/tracing/exporters"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg)

	shutdownTracing, err := setupTracing(context.Background(), cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to set up tracing")
		os.Exit(1)
	}

	app := &application{cfg: cfg, logger: logger}

	boot := startup.NewStartup[any](logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&databaseDependency{app: app})
	if cfg.KafkaProducerEnabled {
		boot.AddDependency(&kafkaDependency{app: app})
	}
	boot.AddDependency(&serverDependency{app: app})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}
	if app.health != nil {
		app.health.SetReady(true)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := boot.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Shutdown did not complete cleanly")
	}
	shutdownTracing(stopCtx)
}

// application holds the shared runtime state the startup dependencies wire up.
type application struct {
	cfg      config.Config
	logger   ectologger.Logger
	sqlxDB   *sqlx.DB
	db       database.DB
	producer *kafka.Producer
	echo     *echo.Echo
	health   *health.Checker
}

type databaseDependency struct {
	app *application
}

func (d *databaseDependency) GetName() string    { return "database" }
func (d *databaseDependency) DependsOn() []string { return nil }

func (d *databaseDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword,
		cfg.DatabaseName, cfg.DatabaseSSLMode)

	db, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(d.app.logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return err
	}

	d.app.sqlxDB = db
	d.app.db = database.NewDatabaseInstance(db, d.app.logger)
	return nil
}

func (d *databaseDependency) Stop(ctx context.Context) error {
	if d.app.sqlxDB == nil {
		return nil
	}
	return d.app.sqlxDB.Close()
}

type kafkaDependency struct {
	app *application
}

func (d *kafkaDependency) GetName() string    { return "kafka-producer" }
func (d *kafkaDependency) DependsOn() []string { return nil }

func (d *kafkaDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	d.app.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, d.app.logger)
	return nil
}

func (d *kafkaDependency) Stop(ctx context.Context) error {
	if d.app.producer == nil {
		return nil
	}
	return d.app.producer.Close()
}

type serverDependency struct {
	app *application
}

func (d *serverDependency) GetName() string { return "http-server" }

func (d *serverDependency) DependsOn() []string {
	deps := []string{"database"}
	if d.app.cfg.KafkaProducerEnabled {
		deps = append(deps, "kafka-producer")
	}
	return deps
}

func (d *serverDependency) Start(ctx context.Context) error {
	app := d.app
	cfg := app.cfg

	projects := projectrepo.NewRepository(app.db, app.logger, projectrepo.Config{
		ScanWindow:      cfg.RecordedScanWindow,
		RecheckCooldown: cfg.RecordedRecheckCooldown,
	})
	conditions := conditionrepo.NewRepository(app.db, app.logger)
	users := userrepo.NewRepository(app.db, app.logger)

	var events projectservice.EventPublisher
	if app.producer != nil {
		events = app.producer
	}
	service := projectservice.NewService(app.logger, projects, conditions, users, events)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(app.logger)

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(app.logger))

	app.health = health.NewChecker(app.sqlxDB, version)
	app.health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if cfg.AuthEnabled {
		api.Use(middleware.Authentication(app.logger, cfg.AuthIssuerURL, cfg.AuthClientID))
	}
	projectroutes.NewHandler(service, projects, conditions).RegisterRoutes(api)

	app.echo = e

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			app.logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()

	return nil
}

func (d *serverDependency) Stop(ctx context.Context) error {
	if d.app.echo == nil {
		return nil
	}
	if d.app.health != nil {
		d.app.health.SetReady(false)
	}
	return d.app.echo.Shutdown(ctx)
}

func newLogger(cfg config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	if cfg.PrettyLogs {
		zapLogger, _ = zap.NewDevelopment()
	} else {
		zapCfg := zap.NewProductionConfig()
		if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
			zapCfg.Level = zap.NewAtomicLevelAt(level)
		}
		zapLogger, _ = zapCfg.Build()
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// setupTracing wires the global tracer. When tracing is disabled the spans are
// no-ops and the returned shutdown does nothing.
func setupTracing(ctx context.Context, cfg config.Config) (func(context.Context), error) {
	if !cfg.TracingEnabled {
		return func(context.Context) {}, nil
	}

	var exporter sdktrace.SpanExporter
	if cfg.TracingExporter == "otlp" {
		var err error
		exporter, err = exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.TracingOTLPEndpoint,
			Protocol: cfg.TracingOTLPProtocol,
			Insecure: true,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
	} else {
		exporter = &exporters.ConsoleExporter{}
	}

	res, err := sdkresource.Merge(sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.AppName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	return func(ctx context.Context) { _ = tp.Shutdown(ctx) }, nil
}
