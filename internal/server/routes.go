package server

import (
	"github.com/OFFIS-RIT/kiwi/rag/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", routes.HealthHandler)

	apiRoutes := e.Group("/api")
	apiRoutes.GET("/health", routes.HealthHandler)

	// Index routes
	apiRoutes.GET("/indexes", routes.GetIndexesHandler)
	apiRoutes.POST("/indexes", routes.CreateIndexHandler)
	apiRoutes.GET("/indexes/:name", routes.GetIndexHandler)
	apiRoutes.PUT("/indexes/:name", routes.UpsertIndexHandler)
	apiRoutes.DELETE("/indexes/:name", routes.DeleteIndexHandler)

	// Document routes
	apiRoutes.GET("/indexes/:name/documents", routes.GetDocumentsHandler)
	apiRoutes.POST("/indexes/:name/documents", routes.CreateDocumentHandler)
	apiRoutes.GET("/indexes/:name/documents/:doc_id", routes.GetDocumentHandler)
	apiRoutes.PUT("/indexes/:name/documents/:doc_id", routes.UpdateDocumentHandler)
	apiRoutes.DELETE("/indexes/:name/documents/:doc_id", routes.DeleteDocumentHandler)
	apiRoutes.POST("/indexes/:name/ingest", routes.IngestHandler)

	// Retrieval routes
	apiRoutes.POST("/search", routes.SearchHandler)

	// Graph routes
	apiRoutes.GET("/schemas/presets", routes.GetSchemaPresetsHandler)
	apiRoutes.POST("/indexes/:name/schema", routes.ApplySchemaHandler)
	apiRoutes.POST("/indexes/:name/resolve", routes.ResolveHandler)
}
