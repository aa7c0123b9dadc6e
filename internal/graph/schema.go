package graph

import (
	"context"
	_ "embed"
	"log/slog"
	"runtime/debug"

	graphql "github.com/graph-gophers/graphql-go"
	gqlerrors "github.com/graph-gophers/graphql-go/errors"
	gqlotel "github.com/graph-gophers/graphql-go/trace/otel"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
)

//go:embed schema.graphql
var schemaSDL string

// NewSchema binds r to the blog schema. Field and query spans are reported
// through the global otel tracer provider.
func NewSchema(r *Resolver) (*graphql.Schema, error) {
	return graphql.ParseSchema(schemaSDL, r,
		graphql.MaxDepth(10),
		graphql.Logger(panicLogger{logger: r.logger}),
		graphql.PanicHandler(panicHandler{}),
		graphql.Tracer(&gqlotel.Tracer{Tracer: otel.Tracer("github.com/you/blogql/internal/graph")}),
	)
}

// panicLogger reports resolver panics, which the engine turns into field errors.
type panicLogger struct {
	logger *slog.Logger
}

func (l panicLogger) LogPanic(ctx context.Context, value interface{}) {
	l.logger.ErrorContext(ctx, "graphql resolver panicked",
		"panic", value,
		"stack", string(debug.Stack()))
}

// panicHandler turns a recovered panic into an unclassified resolver error,
// which clients only ever see masked.
type panicHandler struct{}

func (panicHandler) MakePanicError(_ context.Context, value interface{}) *gqlerrors.QueryError {
	err := oops.Code("RESOLVER_PANIC").Errorf("resolver panicked: %v", value)
	return &gqlerrors.QueryError{Message: err.Error(), ResolverError: err}
}
