package graphql

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getmockd/gqlws/pkg/httputil"
)

// MaxRequestBodySize limits the size of HTTP GraphQL request bodies.
const MaxRequestBodySize = 1 << 20

var errEmptyBody = errors.New("empty request body")

// HTTPHandler serves queries and mutations over plain HTTP. Subscriptions
// are rejected; they are served by the WebSocket endpoint.
type HTTPHandler struct {
	executor Executor
	log      *slog.Logger
}

// NewHTTPHandler creates an HTTPHandler backed by executor.
func NewHTTPHandler(executor Executor, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPHandler{executor: executor, log: logger}
}

// ServeHTTP handles GET and POST requests. POST accepts application/json
// and application/graphql bodies.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		req *GraphQLRequest
		err error
	)
	switch r.Method {
	case http.MethodGet:
		req, err = parseGetRequest(r)
	case http.MethodPost:
		req, err = parsePostRequest(r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return
	}

	resp := h.executor.Execute(r.Context(), req)
	if resp == nil {
		resp = ErrorResponse("internal server error")
	}
	if len(resp.Errors) > 0 {
		h.log.Debug("graphql request failed", "operationName", req.OperationName, "errors", len(resp.Errors))
	}

	httputil.WriteOK(w, resp)
}

func parseGetRequest(r *http.Request) (*GraphQLRequest, error) {
	query := r.URL.Query()

	req := &GraphQLRequest{
		Query:         query.Get("query"),
		OperationName: query.Get("operationName"),
	}

	if vars := query.Get("variables"); vars != "" {
		if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
			return nil, errors.New("invalid variables JSON")
		}
	}
	return req, nil
}

func parsePostRequest(r *http.Request) (*GraphQLRequest, error) {
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	if len(body) == 0 {
		return nil, errEmptyBody
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/graphql") {
		return &GraphQLRequest{Query: string(body)}, nil
	}

	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New("invalid JSON request body")
	}
	return &req, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	httputil.WriteJSON(w, status, ErrorResponse(message))
}
