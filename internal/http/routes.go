package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/Capstone-E1/extractlab_backend/internal/ml"
	"github.com/Capstone-E1/extractlab_backend/internal/services"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
	"github.com/Capstone-E1/extractlab_backend/internal/telemetry"
	"github.com/Capstone-E1/extractlab_backend/internal/ws"
)

// Dependencies wires the API to the rest of the backend. Hub, Sheets,
// Metrics and MLService are optional.
type Dependencies struct {
	Store            store.DataStore
	Analyzer         *services.BatchAnalyzer
	Models           *ml.Models
	MLService        *ml.Service
	Hub              *ws.Hub
	Sheets           SheetClient
	Metrics          *telemetry.Metrics
	ConnectedClients func() int
	AllowedOrigins   []string
	Laboratory       string
	Logger           *logrus.Logger
}

// SetupRoutes configures all HTTP routes for the extraction analytics API
func SetupRoutes(deps Dependencies) *chi.Mux {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Hub != nil && deps.ConnectedClients == nil {
		deps.ConnectedClients = deps.Hub.GetConnectedClientsCount
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger, deps.Metrics))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	handlers := NewHandlers(deps)
	mlHandlers := NewMLHandlers(deps)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.GetHealth)
		r.Get("/stats", handlers.GetSystemStats)

		r.Post("/metrics/compute", handlers.ComputeMetrics)

		// Batch records
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", handlers.ListBatches)
			r.Post("/", handlers.CreateBatch)
			r.Get("/{id}", handlers.GetBatch)
			r.Delete("/{id}", handlers.DeleteBatch)
		})

		// Efficiency and storage predictions
		r.Route("/predict", func(r chi.Router) {
			r.Post("/efficiency", mlHandlers.PredictEfficiency)
			r.Post("/optimize", mlHandlers.OptimizeParameters)
			r.Post("/degradation", mlHandlers.PredictDegradation)
			r.Get("/shelf-life", mlHandlers.GetShelfLife)
			r.Get("/storage", mlHandlers.GetOptimalStorage)
			r.Get("/conditions", mlHandlers.GetConditions)
		})

		// Grading, compliance and anomaly checks
		r.Route("/quality", func(r chi.Router) {
			r.Post("/grade", mlHandlers.GradeBatch)
			r.Post("/compliance", mlHandlers.PredictCompliance)
			r.Post("/anomaly", mlHandlers.DetectAnomaly)
			r.Get("/alerts", handlers.GetQualityAlerts)
		})

		// Model lifecycle
		r.Route("/models", func(r chi.Router) {
			r.Get("/status", mlHandlers.GetModelStatus)
			r.Post("/optimizer/train", mlHandlers.TrainOptimizer)
			r.Post("/anomaly/train", mlHandlers.TrainDetector)
			r.Post("/retrain", mlHandlers.Retrain)
			r.Post("/save", mlHandlers.SaveModels)
			r.Post("/load", mlHandlers.LoadModels)
		})

		r.Post("/coa", handlers.GenerateCoA)

		r.Route("/export", func(r chi.Router) {
			r.Get("/batches.xlsx", handlers.ExportBatchesExcel)
			r.Get("/batches.csv", handlers.ExportBatchesCSV)
		})

		r.Route("/sheets", func(r chi.Router) {
			r.Post("/sync/{id}", handlers.SyncBatchToSheet)
			r.Get("/rows", handlers.GetSheetRows)
		})
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// WebSocket route for real-time updates
	if deps.Hub != nil {
		r.HandleFunc("/ws", deps.Hub.HandleWebSocket)
	}

	return r
}
