package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"startup-fantasy-core/handlers"
	"startup-fantasy-core/middleware"
	"startup-fantasy-core/models"
	"startup-fantasy-core/services"
	"startup-fantasy-core/utils"
	"startup-fantasy-core/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Service-Token, X-Entrant-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Tournament{},
		&models.Lineup{},
		&models.DailyScore{},
		&models.ScoreHistory{},
		&models.LeaderboardEntry{},
		&models.PrizeAllocation{},
		&models.StartupMirror{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	if err := utils.InitArchive(); err != nil {
		log.Fatal("failed to initialize audit archive client:", err)
	}

	ledgerClient := workers.NewLedgerClient()
	signalClient := workers.NewSignalClient()

	locks := services.NewTournamentLocks()
	scoringService := services.NewScoringService(db, ledgerClient, signalClient, locks)
	settlementService := services.NewSettlementService(db, ledgerClient, locks)
	settlementService.ArchiveReport = true
	tournamentService := services.NewTournamentService(db, ledgerClient, scoringService, settlementService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go workers.PollTournaments(ctx, ledgerClient, db, 1*time.Minute)

	startupSync := workers.NewStartupSyncWorker(db, signalClient)
	startupSync.Start(ctx)

	scheduler := services.NewScheduler(scoringService, settlementService)
	scheduler.Start(ctx)

	handlers.SetupTournamentRoutes(app, tournamentService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Tournament mirror polling running (every 1m)")
	log.Println("✅ Startup sync worker running")
	log.Println("✅ Scoring/settlement scheduler running")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
