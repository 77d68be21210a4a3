package api

import (
	"github.com/gin-gonic/gin"

	"github.com/dslovacek55-hash/Reality/internal/benchmarks"
	"github.com/dslovacek55-hash/Reality/internal/database"
	"github.com/dslovacek55-hash/Reality/internal/queue"
)

func SetupRoutes(router *gin.Engine, db *database.Database, q *queue.ListingQueue, reference *benchmarks.Service, sweeper Sweeper) {
	handler := NewHandler(db, q, reference, sweeper, nil)

	router.GET("/health", handler.Health)

	api := router.Group("/api")
	{
		api.GET("/properties", handler.ListProperties)
		api.GET("/properties/export", handler.ExportProperties)
		api.GET("/properties/:id", handler.GetProperty)
		api.GET("/properties/:id/price-history", handler.GetPriceHistory)
		api.GET("/markers", handler.GetMarkers)
		api.GET("/stats", handler.GetStats)
		api.GET("/cities", handler.GetCities)
		api.GET("/dispositions", handler.GetDispositions)
		api.GET("/scrape-runs", handler.GetScrapeRuns)
		api.GET("/price-compare", handler.GetPriceCompare)

		api.POST("/ingest/:source", handler.IngestListings)
		api.POST("/benchmarks", handler.UpsertBenchmark)

		api.GET("/filters", handler.ListFilters)
		api.POST("/filters", handler.CreateFilter)
		api.PUT("/filters/:id", handler.UpdateFilter)
		api.DELETE("/filters/:id", handler.DeleteFilter)

		api.GET("/favorites", handler.ListFavorites)
		api.POST("/favorites", handler.AddFavorite)
		api.DELETE("/favorites/:id", handler.RemoveFavorite)

		admin := api.Group("/admin")
		{
			admin.POST("/properties/:id/mark-sold", handler.MarkSold)
			admin.DELETE("/properties/:id", handler.DeleteProperty)
			admin.POST("/sweeps", handler.TriggerSweeps)
		}
	}
}
