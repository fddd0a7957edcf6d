package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/jacentio/homeapi/auth"
	"github.com/jacentio/homeapi/graph"
)

var (
	errEmptyBody  = errors.New("request body is empty")
	errEmptyQuery = errors.New("query is required")
	errBodyTooBig = errors.New("request body too large")
)

// errorBody is the JSON error document for requests that never reach GraphQL.
type errorBody struct {
	Errors []errorMessage `json:"errors"`
}

type errorMessage struct {
	Message string `json:"message"`
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, errBodyTooBig.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	status, resp := s.execute(r.Context(), body, r.Header.Get("Authorization"))
	writeJSON(w, status, resp)
}

// execute decodes one GraphQL request body and runs it. The returned value is
// either a *graph.Response or an errorBody, ready to be JSON encoded.
func (s *Server) execute(ctx context.Context, body []byte, authorization string) (int, any) {
	req, err := decodeRequest(body)
	if err != nil {
		s.logger.DebugContext(ctx, "rejected graphql request",
			"error", err,
			"request_id", requestIDFrom(ctx),
		)
		return http.StatusBadRequest, errorBody{Errors: []errorMessage{{Message: err.Error()}}}
	}
	req.Credential = auth.BearerToken(authorization)
	return http.StatusOK, s.graphql.Execute(ctx, req)
}

func decodeRequest(body []byte) (graph.Request, error) {
	var req graph.Request
	if len(bytes.TrimSpace(body)) == 0 {
		return req, errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, errEmptyQuery
	}
	req.Variables = normalizeNumbers(req.Variables).(map[string]interface{})
	return req, nil
}

// normalizeNumbers turns json.Number values into int or float64 so that Int
// arguments receive integral values.
func normalizeNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if val == nil {
			return map[string]interface{}{}
		}
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		f, _ := val.Float64()
		return f
	default:
		return v
	}
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Errors: []errorMessage{{Message: message}}})
}
