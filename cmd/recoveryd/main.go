// Command recoveryd serves the account recovery flow over HTTP, backed by Redis for
// session state and DynamoDB as the user directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	recovery "github.com/pwm-project/pwm-sub000"
	"github.com/pwm-project/pwm-sub000/directory/dynamo"
	"github.com/pwm-project/pwm-sub000/httpapi"
	"github.com/pwm-project/pwm-sub000/metrics/export/prometheus"
	"github.com/pwm-project/pwm-sub000/notify"
	"github.com/pwm-project/pwm-sub000/password"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, reading from environment")
	}

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("recoveryd exited")
	}
}

func run(logger *logrus.Logger) error {
	env, err := loadSettings()
	if err != nil {
		return err
	}
	if level, err := logrus.ParseLevel(env.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", env.LogLevel).Warn("unknown log level, using info")
	}

	cfg, err := loadConfig(env)
	if err != nil {
		return err
	}
	for _, w := range cfg.Lint() {
		entry := logger.WithField("code", w.Code)
		if w.Severity == recovery.LintInfo {
			entry.Info(w.Message)
		} else {
			entry.Warn(w.Message)
		}
	}

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     env.RedisAddr,
		Password: env.RedisPassword,
		DB:       env.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.WithError(err).WithField("addr", env.RedisAddr).Warn("redis not reachable at startup")
	}

	dynamoClient, err := dynamo.NewClient(ctx, dynamo.ClientConfig{
		Region:          env.AWSRegion,
		Endpoint:        env.DynamoEndpoint,
		AccessKeyID:     env.AWSAccessKeyID,
		SecretAccessKey: env.AWSSecretAccessKey,
	})
	if err != nil {
		return fmt.Errorf("dynamodb client: %w", err)
	}
	directory, err := dynamo.New(dynamoClient, dynamo.Config{
		Table:                   env.DynamoTable,
		SearchFields:            env.SearchFields,
		PasswordChangeAttribute: cfg.Token.PasswordChangeAttribute,
		Hash:                    password.DefaultConfig(),
	}, logger)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}

	engine, err := recovery.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(directory).
		WithNotifier(newNotifier(ctx, env, cfg, logger)).
		WithAuditSink(recovery.NewLogrusSink(logger)).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	opts := httpapi.Options{
		AllowedOrigins: env.AllowedOrigins,
		Cookies:        httpapi.CookieConfig{Secure: env.SecureCookies},
		ThrottleRate:   rate.Limit(env.ThrottleRate),
		ThrottleBurst:  env.ThrottleBurst,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = prometheus.NewPrometheusExporter(engine).Handler()
	}
	handler := httpapi.NewHandler(engine, engine.Sessions(), opts.Cookies, logger)
	router := httpapi.NewRouter(handler, opts)
	defer router.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", env.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", env.Port).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func loadConfig(env settings) (recovery.Config, error) {
	cfg := recovery.DefaultConfig()
	if env.ConfigPath != "" {
		loaded, err := recovery.LoadConfigFile(env.ConfigPath)
		if err != nil {
			return recovery.Config{}, fmt.Errorf("load %s: %w", env.ConfigPath, err)
		}
		cfg = loaded
	}

	// Key material never lives in the config file.
	cfg.Token.FingerprintKey = env.FingerprintKey
	cfg.PreviousAuth.PrivateKey = env.PreviousAuthPrivateKey
	cfg.PreviousAuth.PublicKey = env.PreviousAuthPublicKey

	if err := cfg.Validate(); err != nil {
		return recovery.Config{}, err
	}
	return cfg, nil
}

// newNotifier wires SMTP when a host is configured and SNS when the AWS SDK can load a
// configuration. A missing channel is logged and left nil on the dispatcher.
func newNotifier(ctx context.Context, env settings, cfg recovery.Config, logger *logrus.Logger) *notify.Dispatcher {
	var email notify.EmailSender
	if env.SMTPHost != "" {
		email = notify.NewMailer(notify.SMTPConfig{
			Host:     env.SMTPHost,
			Port:     env.SMTPPort,
			From:     cfg.Notification.EmailFrom,
			Username: env.SMTPUser,
			Password: env.SMTPPassword,
		})
	} else {
		logger.Warn("SMTP_HOST not set, email delivery disabled")
	}

	var sms notify.SMSSender
	sender, err := notify.NewSNSSender(ctx, notify.SNSConfig{
		Region:          env.AWSRegion,
		AccessKeyID:     env.AWSAccessKeyID,
		SecretAccessKey: env.AWSSecretAccessKey,
		SenderID:        env.SNSSenderID,
	})
	if err == nil {
		sms = sender
	} else {
		logger.WithError(err).Warn("SNS sender not available, sms delivery disabled")
	}

	return notify.NewDispatcher(email, sms, logger)
}
