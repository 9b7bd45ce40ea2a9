package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eyeclinic/internal/api"
	"eyeclinic/internal/booking"
	"eyeclinic/internal/cache"
	"eyeclinic/internal/clinic"
	"eyeclinic/internal/config"
	"eyeclinic/internal/db"
	"eyeclinic/internal/events"
	"eyeclinic/internal/metrics"
	"eyeclinic/internal/notify"
	"eyeclinic/internal/sheets"
	"eyeclinic/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("CLINIC_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid time zone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	database, err := db.NewDB(cfg.Database.Path, bus, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	// Clinic rules: the stored copy wins; clinic.yaml seeds a fresh database
	// and later saves of the file are merged as element-wise patches.
	rules := clinic.NewStore(database, bus, &logger)
	seed, err := config.LoadClinicConfig(cfg.Clinic.RulesPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load clinic rules")
	}
	if err := rules.Load(ctx, seed); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise clinic rules")
	}
	if _, err := config.WatchClinic(ctx, cfg.Clinic.RulesPath, cfg.RulesReloadInterval(),
		func(edit config.RulesEdit) {
			next, err := rules.ApplyFileEdit(ctx, edit.Previous, edit.Next)
			if err != nil {
				logger.Error().Err(err).Msg("failed to apply clinic rules")
				return
			}
			logger.Info().Int64("version", next.Version).Strs("fields", edit.Patch().Fields()).Msg("clinic rules reloaded")
		},
		func(err error) {
			logger.Error().Err(err).Msg("clinic rules file rejected")
		},
	); err != nil {
		logger.Error().Err(err).Msg("clinic rules watch failed")
	}

	svc := booking.NewService(database, rules, booking.Options{
		Location:     loc,
		ReminderLead: cfg.ReminderLead(),
	}, &logger)
	svc.UseEvents(bus)

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		svc.UseLocker(booking.NewRedisLocker(rdb, booking.RedisLockerOptions{TTL: cfg.LockTTL()}, &logger))
		if ttl := cfg.SlotCacheTTL(); ttl > 0 {
			svc.UseSlotCache(cache.NewSlotCache(rdb, ttl))
		}
		logger.Info().Str("addr", cfg.Redis.Address).Msg("using redis for date locks")
	}

	dispatcher := notify.NewDispatcher(buildNotifier(cfg, loc, &logger), notify.DispatcherOptions{
		QueueSize: cfg.Notifications.QueueSize,
		Workers:   cfg.Notifications.Workers,
	}, &logger)
	dispatcher.SetSink(svc)
	// Deliveries outlive the signal context so the queue can drain on shutdown.
	dispatcher.Start(context.Background())
	svc.UseNotifier(dispatcher)

	if cfg.Sheets.Enabled {
		client, err := sheets.NewSheetsClient(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID)
		if err != nil {
			logger.Error().Err(err).Msg("sheets mirror disabled")
		} else {
			sheets.NewMirror(client, svc, rules, &logger).Start(ctx, bus)
		}
	}

	if cfg.Backup.Enabled {
		backups := db.NewBackupService(database, db.BackupOptions{
			Enabled:       true,
			Dir:           cfg.Backup.Path,
			Interval:      cfg.BackupInterval(),
			RetentionDays: cfg.Backup.RetentionDays,
		}, &logger)
		if off := cfg.Backup.Offsite; off.Endpoint != "" {
			store, err := storage.NewMinioStore(ctx, storage.MinioConfig{
				Endpoint:  off.Endpoint,
				AccessKey: off.AccessKey,
				SecretKey: off.SecretKey,
				Bucket:    off.Bucket,
				Prefix:    off.Prefix,
				UseSSL:    off.UseSSL,
			}, &logger)
			if err != nil {
				logger.Error().Err(err).Msg("offsite backups disabled")
			} else {
				backups.UseUploader(store)
			}
		}
		go backups.Start(ctx)
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8081
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	server := api.NewHTTPServer(cfg.HTTP.Address, svc, rules, api.Options{
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		BookingsPerMinute: cfg.HTTP.BookingsPerMinute,
	}, &logger)
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			logger.Error().Err(err).Msg("api shutdown")
		}
	}()

	logger.Info().Str("clinic", cfg.Clinic.Name).Int64("rules_version", rules.Current().Version).Msg("clinic booking service started")
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("api server error")
		stop()
	}

	dispatcher.Stop()
	logger.Info().Msg("clinic booking service stopped")
}

// buildNotifier combines the configured channels. With none configured,
// messages are only logged.
func buildNotifier(cfg *config.Config, loc *time.Location, logger *zerolog.Logger) notify.Notifier {
	templates := notify.Templates{ClinicName: cfg.Clinic.Name, Location: loc}
	var channels notify.Multi

	if cfg.SMS.Enabled && cfg.SMS.RelayURL != "" {
		retry := notify.DefaultRetryConfig()
		retry.MaxRetries = cfg.SMS.MaxRetries
		channels = append(channels, notify.NewSMSRelay(notify.SMSConfig{
			RelayURL:      cfg.SMS.RelayURL,
			RatePerSecond: cfg.SMS.RatePerSecond,
			Burst:         cfg.SMS.Burst,
			Timeout:       cfg.SMSTimeout(),
			Retry:         retry,
			Templates:     templates,
		}, logger))
	}

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, templates)
		if err != nil {
			logger.Error().Err(err).Msg("telegram notifications disabled")
		} else {
			channels = append(channels, tg)
		}
	}

	if len(channels) == 0 {
		logger.Warn().Msg("no notification channel configured; messages are logged only")
		return notify.NotifierFunc(func(_ context.Context, msg notify.Message) (notify.Handle, error) {
			logger.Info().
				Str("kind", string(msg.Kind)).
				Str("appointment_id", msg.Appointment.ID).
				Str("body", templates.Render(msg)).
				Msg("notification")
			return "", nil
		})
	}
	return channels
}

func startHealthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
