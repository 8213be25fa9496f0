package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/posterwall/backend/internal/middleware"
	"github.com/posterwall/backend/internal/wall"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Logger        zerolog.Logger
	Wall          *wall.App
	VideoMetadata VideoMetadataProvider
	Metadata      MetadataStore
	Proxy         http.Handler
	// CoversDir holds materialized covers served under /data/covers/.
	CoversDir string
	// ResolveLimiter guards /api/resolve_video per client IP.
	ResolveLimiter middleware.RateLimiter
	// ProxyRequestsPerMinute bounds /proxy_video per client IP; zero disables it.
	ProxyRequestsPerMinute int
}

// NewRouter wires HTTP handlers into a chi router.
func NewRouter(deps Dependencies) http.Handler {
	health := HealthHandler{}
	if deps.Wall != nil {
		app := deps.Wall
		health.Covers = func() int { return len(app.Records()) }
	}
	metadata := MetadataHandler{Store: deps.Metadata}
	videos := VideoHandler{Metadata: deps.VideoMetadata}

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(cors)

	r.Get("/healthz", health.Handle)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/data/metadata.json", metadata.Get)
	r.Post("/api/save_data", metadata.Save)
	if deps.CoversDir != "" {
		r.Handle("/data/covers/*", http.StripPrefix("/data/covers/", http.FileServer(http.Dir(deps.CoversDir))))
	}

	r.With(middleware.RateLimit(deps.ResolveLimiter, "resolve")).Get("/api/resolve_video", videos.Resolve)

	if deps.Proxy != nil {
		proxy := r.With()
		if deps.ProxyRequestsPerMinute > 0 {
			proxy = r.With(httprate.LimitByIP(deps.ProxyRequestsPerMinute, time.Minute))
		}
		proxy.Method(http.MethodGet, "/proxy_video", deps.Proxy)
	}

	if deps.Wall != nil {
		h := WallHandler{App: deps.Wall}
		r.Route("/api/wall", func(r chi.Router) {
			r.Get("/state", h.State)
			r.Get("/cards", h.Cards)
			r.Get("/records", h.Records)

			r.Post("/feed/next", h.NextBatch)
			r.Post("/feed/scroll", h.Scroll)
			r.Post("/feed/resize", h.Resize)

			r.Post("/videos", h.AddVideo)
			r.Delete("/covers/at/{index}", h.DeleteCoverAt)
			r.Delete("/covers/{id}", h.DeleteCover)
			r.Patch("/covers/{id}", h.PatchCover)

			r.Get("/export", h.Export)
			r.Post("/import", h.Import)

			r.Get("/settings", h.Settings)
			r.Put("/settings", h.ApplySettings)
			r.Delete("/settings", h.ResetSettings)
			r.Post("/hero/{slot}", h.UploadHero)

			r.Post("/capture", h.OpenCapture)
			r.Delete("/capture", h.DiscardCapture)
			r.Post("/capture/seek", h.SeekCapture)
			r.Post("/capture/frame", h.CaptureFrame)
			r.Post("/capture/commit", h.CommitCapture)
		})
	}

	return r
}

// cors answers preflight requests and marks every response as readable
// cross-origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
