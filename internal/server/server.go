// Package server is the public HTTP surface: the GraphQL endpoint, image
// upload and image serving, wrapped in CORS, identity and access-log
// middleware.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/you/blogql/internal/apperr"
	"github.com/you/blogql/internal/auth"
	"github.com/you/blogql/internal/observability"
	"github.com/you/blogql/internal/storage"
)

// maxUploadMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const maxUploadMemory = 32 << 20

// ImageOwners tells whether an image belongs to one of a user's posts.
type ImageOwners interface {
	OwnsImage(ctx context.Context, userID, imagePath string) (bool, error)
}

type Options struct {
	// AllowedOrigin is sent as Access-Control-Allow-Origin.
	AllowedOrigin string
	// UploadRate is the per-user upload allowance per second; 0 disables it.
	UploadRate int
	Logger     *slog.Logger
	// Metrics may be nil, in which case nothing is exported.
	Metrics *observability.Metrics
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
	// Owners guards the oldPath removal of an upload. Without it no
	// replaced image is ever removed.
	Owners ImageOwners
}

type Server struct {
	schema  *graphql.Schema
	images  storage.Images
	tokens  *auth.Tokens
	limiter *rateLimiter
	metrics *observability.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	origin  string
	owners  ImageOwners
}

func New(schema *graphql.Schema, images storage.Images, tokens *auth.Tokens, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/you/blogql/internal/server")
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	return &Server{
		schema:  schema,
		images:  images,
		tokens:  tokens,
		limiter: newRateLimiter(opts.UploadRate),
		metrics: opts.Metrics,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
		origin:  opts.AllowedOrigin,
		owners:  opts.Owners,
	}
}

// Handler returns the routed and wrapped API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /graphql", s.handleGraphQL)
	mux.HandleFunc("GET /graphql", s.handleGraphQL)
	mux.HandleFunc("PUT /post-image", s.withLimit(s.handleUpload))
	mux.HandleFunc("POST /post-image", s.withLimit(s.handleUpload))
	mux.HandleFunc("GET /images/{key}", s.handleImage)

	return s.withCORS(s.withAuth(s.withAccessLog(mux)))
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers a non-GraphQL request with the error envelope.
func writeError(w http.ResponseWriter, err error) {
	env := apperr.NewEnvelope(err)
	writeJSON(w, env, env.Status)
}
