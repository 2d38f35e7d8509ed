package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/photogallery/internal/accounts"
	"github.com/jmerrifield20/photogallery/internal/config"
	"github.com/jmerrifield20/photogallery/internal/database"
	"github.com/jmerrifield20/photogallery/internal/email"
	"github.com/jmerrifield20/photogallery/internal/health"
	"github.com/jmerrifield20/photogallery/internal/identity"
	"github.com/jmerrifield20/photogallery/internal/oauth"
	"github.com/jmerrifield20/photogallery/internal/photos"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     *pgxpool.Pool
	mongoDB  *mongo.Database
	redis    *redis.Client
	tokens   *identity.TokenIssuer
	accounts *accounts.Service
	closers  []func()
}

// newApp connects the account store and builds the identity services.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	backend, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	tokens, err := identity.NewTokenIssuer([]byte(cfg.Auth.TokenSecret), cfg.Server.PublicURL, cfg.Auth.TokenTTL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("token issuer: %w", err)
	}
	a.tokens = tokens

	mailer, err := newMailer(cfg.Email, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	hasher := accounts.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashConcurrency)
	svc := accounts.NewService(accounts.NewStore(backend, hasher), hasher, tokens, mailer, logger)
	svc.SetFrontendURL(cfg.Server.FrontendURL)
	svc.SetResetTTL(cfg.Auth.ResetTTL)
	a.accounts = svc
	return a, nil
}

func (a *app) openBackend(ctx context.Context) (accounts.Backend, error) {
	switch a.cfg.StoreDriver {
	case config.DriverMongo:
		db, err := database.ConnectMongo(ctx, a.cfg.MongoURL, a.cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		a.mongoDB = db
		a.closers = append(a.closers, func() { _ = db.Client().Disconnect(context.Background()) })

		backend := accounts.NewMongoBackend(db)
		if err := backend.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		a.logger.Info("account store: mongo", zap.String("database", a.cfg.MongoDatabase))
		return backend, nil

	default:
		pool, err := database.ConnectPostgres(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		a.logger.Info("account store: postgres")
		return accounts.NewPostgresBackend(pool), nil
	}
}

func newMailer(cfg config.Email, logger *zap.Logger) (email.EmailSender, error) {
	switch cfg.Provider {
	case config.EmailSMTP:
		logger.Info("email sender: smtp", zap.String("host", cfg.SMTPHost))
		return email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromAddress), nil
	case config.EmailPostmark:
		s, err := email.NewPostmarkSender(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.FromAddress)
		if err != nil {
			return nil, err
		}
		logger.Info("email sender: postmark")
		return s, nil
	default:
		logger.Info("email sender: noop (set email.provider to smtp or postmark to deliver mail)")
		return email.NewNoopSender(logger), nil
	}
}

// photoService builds the photo service on the same store driver as accounts.
func (a *app) photoService(ctx context.Context) (*photos.Service, error) {
	var repo photos.Repository
	if a.mongoDB != nil {
		r := photos.NewMongoRepository(a.mongoDB)
		if err := r.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		repo = r
	} else {
		repo = photos.NewPostgresRepository(a.pool)
	}

	var storage photos.Storage
	switch a.cfg.Storage.Driver {
	case config.StorageS3:
		s3cfg := a.cfg.Storage.S3
		s, err := photos.NewS3Storage(ctx, photos.S3Config{
			Bucket:         s3cfg.Bucket,
			Region:         s3cfg.Region,
			Endpoint:       s3cfg.Endpoint,
			AccessKeyID:    s3cfg.AccessKeyID,
			SecretKey:      s3cfg.SecretKey,
			ForcePathStyle: s3cfg.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		storage = s
		a.logger.Info("photo storage: s3", zap.String("bucket", s3cfg.Bucket))
	default:
		s, err := photos.NewLocalStorage(a.cfg.Storage.LocalDir)
		if err != nil {
			return nil, err
		}
		storage = s
		a.logger.Info("photo storage: local", zap.String("dir", a.cfg.Storage.LocalDir))
	}

	svc := photos.NewService(repo, storage, a.logger)
	svc.SetMaxUploadBytes(a.cfg.MaxUploadBytes)
	return svc, nil
}

// stateGuard returns a Redis-backed guard when redis.url is set, otherwise
// an in-process one.
func (a *app) stateGuard(ctx context.Context) (oauth.StateGuard, error) {
	if a.cfg.RedisURL == "" {
		a.logger.Warn("oauth state guard: in-memory (set redis.url when running more than one replica)")
		return oauth.NewMemoryStateGuard(), nil
	}
	client, err := database.ConnectRedis(ctx, a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.logger.Info("oauth state guard: redis")
	return oauth.NewRedisStateGuard(client), nil
}

// healthChecker registers a probe for every connected dependency.
func (a *app) healthChecker() *health.Checker {
	checker := health.New(health.Config{}, a.logger)
	if a.pool != nil {
		checker.Add("postgres", a.pool.Ping)
	}
	if a.mongoDB != nil {
		checker.Add("mongo", func(ctx context.Context) error {
			return a.mongoDB.Client().Ping(ctx, nil)
		})
	}
	if a.redis != nil {
		checker.Add("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if a.cfg.Storage.Driver == config.StorageLocal {
		dir := a.cfg.Storage.LocalDir
		checker.Add("storage", func(context.Context) error {
			_, err := os.Stat(dir)
			return err
		})
	}
	return checker
}

// Close releases every connection in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
