package server

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"

	gqlerrors "github.com/graph-gophers/graphql-go/errors"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/you/blogql/internal/apperr"
)

// maxQueryBody bounds a GraphQL request body.
const maxQueryBody = 1 << 20

type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data   json.RawMessage   `json:"data,omitempty"`
	Errors []apperr.Envelope `json:"errors,omitempty"`
}

// mutationKeyword errs on the side of refusing GET requests that mention
// a mutation anywhere.
var mutationKeyword = regexp.MustCompile(`\bmutation\b`)

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	req, err := decodeGraphQLRequest(w, r)
	if err != nil {
		s.logger.DebugContext(r.Context(), "bad graphql request", "error", err)
		writeJSON(w, graphqlResponse{Errors: []apperr.Envelope{{
			Message: "Invalid GraphQL request.",
			Status:  http.StatusBadRequest,
		}}}, http.StatusBadRequest)
		return
	}
	if r.Method == http.MethodGet && mutationKeyword.MatchString(req.Query) {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, graphqlResponse{Errors: []apperr.Envelope{{
			Message: "Mutations must be sent with POST.",
			Status:  http.StatusMethodNotAllowed,
		}}}, http.StatusMethodNotAllowed)
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := s.tracer.Start(ctx, "graphql.request")
	defer span.End()
	span.SetAttributes(attribute.String("graphql.operation.name", req.OperationName))

	resp := s.schema.Exec(ctx, req.Query, req.OperationName, req.Variables)

	out := graphqlResponse{Data: resp.Data}
	documentOnly := len(resp.Errors) > 0
	for _, qerr := range resp.Errors {
		env := s.envelope(r, qerr)
		if env.Status != http.StatusBadRequest {
			documentOnly = false
		}
		s.metrics.GraphQLErrors.WithLabelValues(strconv.Itoa(env.Status)).Inc()
		out.Errors = append(out.Errors, env)
	}
	if len(resp.Errors) > 0 {
		span.SetStatus(codes.Error, resp.Errors[0].Message)
	}

	status := http.StatusOK
	if documentOnly && len(resp.Data) == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, out, status)
}

// envelope formats one GraphQL error. Errors without a resolver error are
// document errors unless they carry a path, which means the engine failed
// while executing a field.
func (s *Server) envelope(r *http.Request, qerr *gqlerrors.QueryError) apperr.Envelope {
	var env apperr.Envelope
	switch {
	case qerr.ResolverError != nil:
		env = apperr.NewEnvelope(qerr.ResolverError)
		if !apperr.Classified(qerr.ResolverError) {
			s.logger.ErrorContext(r.Context(), "graphql resolver failed",
				"error", qerr.ResolverError,
				"path", qerr.Path)
		}
	case len(qerr.Path) == 0:
		env = apperr.Envelope{Message: qerr.Message, Status: http.StatusBadRequest}
	default:
		s.logger.ErrorContext(r.Context(), "graphql execution failed",
			"error", qerr.Message,
			"path", qerr.Path)
		env = apperr.NewEnvelope(oops.Errorf("%s", qerr.Message))
	}

	env.Path = qerr.Path
	for _, loc := range qerr.Locations {
		env.Locations = append(env.Locations, apperr.Location{Line: loc.Line, Column: loc.Column})
	}
	return env
}

func decodeGraphQLRequest(w http.ResponseWriter, r *http.Request) (graphqlRequest, error) {
	var req graphqlRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.OperationName = q.Get("operationName")
		if vars := q.Get("variables"); vars != "" {
			if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
				return req, oops.Code("GRAPHQL_BAD_VARIABLES").Wrap(err)
			}
		}
	} else {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody))
		if err := dec.Decode(&req); err != nil {
			return req, oops.Code("GRAPHQL_BAD_BODY").Wrap(err)
		}
	}
	if req.Query == "" {
		return req, oops.Code("GRAPHQL_MISSING_QUERY").Errorf("query is required")
	}
	return req, nil
}
