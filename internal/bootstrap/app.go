package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"

	"label-decoder/internal/analyses"
	"label-decoder/internal/intake"
	"label-decoder/internal/llm"
	"label-decoder/internal/llm/gemini"
	"label-decoder/internal/llm/openai"
	"label-decoder/internal/records"
	"label-decoder/internal/services/health"
	"label-decoder/internal/shared/config"
	"label-decoder/internal/shared/server"
	"label-decoder/internal/shared/storage/db"
	"label-decoder/internal/shared/storage/object"
	localstore "label-decoder/internal/shared/storage/object/local"
	miniostore "label-decoder/internal/shared/storage/object/minio"
	s3store "label-decoder/internal/shared/storage/object/s3"
)

// App holds shared dependencies.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	DB              *sql.DB
	Store           object.ObjectStore
	Repo            records.Repo
	LLM             llm.Client
	Intake          *intake.Service
	AnalysesService *analyses.Service
	AnalysisHandler *analyses.Handler
	Health          *health.Service
}

// Options adjusts Build for callers other than the API server.
type Options struct {
	// DBOptions overrides the connection pool defaults.
	DBOptions *db.Options
	// LLM replaces the provider client built from config.
	LLM llm.Client
	// SkipRouter leaves App.Router nil.
	SkipRouter bool
}

// Build prepares shared dependencies and, unless skipped, the router.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	sqlDB, err := buildDB(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		closeDB(sqlDB)
		return nil, err
	}

	client := opts.LLM
	if client == nil {
		client, err = buildLLM(ctx, cfg)
		if err != nil {
			closeDB(sqlDB)
			return nil, err
		}
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Repo:   buildRepo(cfg, sqlDB),
		LLM:    client,
		Health: health.NewService(),
	}
	app.Intake = intake.New(store, cfg.MaxUploadBytes)
	app.AnalysesService = &analyses.Service{
		Intake:  app.Intake,
		Repo:    app.Repo,
		Store:   store,
		LLM:     client,
		Timeout: cfg.AnalysisTimeout,
	}
	app.AnalysisHandler = analyses.NewHandler(app.AnalysesService, cfg.MaxUploadBytes)

	if sqlDB != nil {
		app.Health.Register("database", sqlDB.PingContext)
	}
	app.Health.Register("repository", func(ctx context.Context) error {
		_, err := app.Repo.Stats(ctx)
		return err
	})

	if !opts.SkipRouter {
		app.Router = server.NewRouter(server.RouterDeps{
			Config:          cfg,
			AnalysisHandler: app.AnalysisHandler,
			Health:          app.Health,
		})
	}

	log.Printf("bootstrap: db=%s store=%s llm=%s model=%s", cfg.DBDriver, store.Provider(), cfg.LLMProvider, client.Model())
	return app, nil
}

// Close releases the database pool.
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func buildDB(ctx context.Context, cfg config.Config, opts Options) (*sql.DB, error) {
	var dsn string
	switch cfg.DBDriver {
	case "memory":
		log.Printf("bootstrap: DB_DRIVER=memory; records are not persisted")
		return nil, nil
	case db.DriverPostgres:
		dsn = cfg.DatabaseURL
	case db.DriverSQLite:
		dsn = cfg.SQLitePath
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	poolOpts := db.OptionsFromEnv(db.DefaultServerOptions())
	if opts.DBOptions != nil {
		poolOpts = *opts.DBOptions
	}
	sqlDB, err := db.Connect(ctx, cfg.DBDriver, dsn, poolOpts)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, cfg.DBDriver, sqlDB); err != nil {
		closeDB(sqlDB)
		return nil, err
	}
	return sqlDB, nil
}

func buildRepo(cfg config.Config, sqlDB *sql.DB) records.Repo {
	if sqlDB == nil {
		return records.NewMemoryRepo()
	}
	if cfg.DBDriver == db.DriverPostgres {
		return records.NewPGRepo(sqlDB)
	}
	return records.NewSQLiteRepo(sqlDB)
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix)
	case "minio":
		return miniostore.New(ctx, miniostore.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.AWSRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildLLM(ctx context.Context, cfg config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel)
	default:
		return gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
	}
}

func closeDB(sqlDB *sql.DB) {
	if sqlDB != nil {
		_ = sqlDB.Close()
	}
}
