package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/cloudinary"
	"qrattend/internal/config"
	"qrattend/internal/geo"
	"qrattend/internal/handler"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/mailer"
	"qrattend/internal/metrics"
	"qrattend/internal/notify"
	"qrattend/internal/otp"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("refusing to start: %v", err)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]func(context.Context) bool{}

	var redisClient *store.Redis
	if cfg.StoreBackend != "memory" || cfg.QueueBackend != "memory" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		checks["redis"] = redisClient.Healthy
	}

	var repo attendance.Repository
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		checks["db"] = func(ctx context.Context) bool { return db.Client.PingContext(ctx) == nil }
		repo = attendance.NewPostgresRepository(db.Client)
	case "redis":
		repo = attendance.NewKVRepository(store.NewRedisKV(redisClient.Client, ""))
	default:
		log.Println("WARNING: memory store backend, data is lost on restart")
		repo = attendance.NewKVRepository(store.NewMemoryKV())
		if cfg.SeedDemo {
			if err := attendance.SeedDemo(ctx, repo, time.Now()); err != nil {
				return err
			}
			log.Println("demo data loaded")
		}
	}
	if cfg.SeedDemo && (cfg.StoreBackend == "postgres" || cfg.StoreBackend == "redis") {
		log.Println("SEED_DEMO ignored: only the memory store backend is seeded")
	}

	var otpStore otp.Store
	if cfg.StoreBackend == "memory" {
		otpStore = otp.NewMemoryStore()
	} else {
		otpStore = otp.NewRedisStore(redisClient.Client)
	}

	sender := mailer.New(cfg.MailBackend, mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.MailFrom,
	})

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(64)
		q = mem
		go func() {
			if err := notify.New(sender).Run(ctx, mem); err != nil {
				log.Printf("notifier stopped: %v", err)
			}
		}()
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	var reference *geo.Point
	if cfg.GeofenceSet {
		reference = &geo.Point{Lat: cfg.GeofenceLat, Lng: cfg.GeofenceLng}
	} else {
		log.Println("WARNING: GEOFENCE_LAT/GEOFENCE_LNG not set, sessions without a reference are admitted unverified")
	}
	att := attendance.NewService(repo, attendance.Settings{Reference: reference, RadiusMeters: cfg.GeofenceRadiusM})

	admin, err := auth.NewAdmin(cfg.AdminEmail, cfg.AdminPasswordHash, cfg.AdminPassword)
	if err != nil {
		return err
	}

	deps := handler.Deps{
		Attendance: att,
		OTP:        otp.NewService(otpStore, sender, otp.Options{TTL: cfg.OTPTTL, Cooldown: cfg.OTPCooldown}),
		Admin:      admin,
		Tokens: auth.Issuer{
			Name:       cfg.JWTIssuer,
			Key:        []byte(cfg.JWTSigningKey),
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		Queue:    q,
		OTPLimit: httpmiddleware.NewTokenBucket(5, 5, nil).GinMiddleware(),
		Checks:   checks,
	}

	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		deps.Images = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured, QR images are served from /qr.png only")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(securityHeaders())
	r.Use(metrics.GinMiddleware())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, nil).GinMiddleware())

	handler.New(deps).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
