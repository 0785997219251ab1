package handlers

import (
	"startup-fantasy-core/middleware"
	"startup-fantasy-core/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTournamentRoutes(app *fiber.App, tournamentService *services.TournamentService) {
	// 🔓 Public read surface — live standings tolerate eventual consistency
	app.Get("/tournaments", tournamentService.GetAllTournaments)
	app.Get("/tournaments/:id", tournamentService.GetTournamentByID)
	app.Get("/tournaments/:id/standings", tournamentService.GetStandings)
	app.Get("/tournaments/:id/allocations", tournamentService.GetAllocations)
	app.Get("/tournaments/:id/entrants/:entrant_id/history", tournamentService.GetEntrantHistory)

	// 🔐 Entrant routes — identity comes from the gateway headers
	secured := app.Group("/", middleware.EntrantContextMiddleware())
	secured.Post("/tournaments/:id/lineups", tournamentService.RegisterLineup)
	secured.Delete("/tournaments/:id/lineups", tournamentService.CancelLineup)
	secured.Post("/tournaments/:id/claim", tournamentService.ClaimPrize)

	// 🔒 Admin-only routes
	admin := secured.Group("/admin", middleware.RequireAdmin())
	admin.Post("/tournaments/:id/cancel", tournamentService.CancelTournament)
	admin.Post("/tournaments/:id/sync", tournamentService.SyncTournament)
	admin.Post("/tournaments/:id/score", tournamentService.TriggerScoring)
	admin.Post("/tournaments/:id/finalize", tournamentService.TriggerFinalize)
}
