package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// HandleAPIGateway serves one API Gateway HTTP API (payload v2) event. Every
// method other than GET and OPTIONS is treated as a GraphQL POST.
func (s *Server) HandleAPIGateway(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	requestID := header(event.Headers, "X-Request-ID")
	if requestID == "" {
		requestID = event.RequestContext.RequestID
	}
	ctx = withRequestID(ctx, requestID)

	switch event.RequestContext.HTTP.Method {
	case http.MethodOptions:
		return s.lambdaResponse(event, http.StatusNoContent, "", requestID), nil
	case http.MethodGet:
		if strings.TrimSuffix(event.RawPath, "/") == "/health" {
			body, _ := json.Marshal(map[string]string{"status": "ok", "version": s.version})
			return s.lambdaResponse(event, http.StatusOK, string(body), requestID), nil
		}
		resp := s.lambdaResponse(event, http.StatusOK, string(playgroundPage), requestID)
		resp.Headers["Content-Type"] = "text/html; charset=utf-8"
		return resp, nil
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			msg, _ := json.Marshal(errorBody{Errors: []errorMessage{{Message: "invalid base64 body"}}})
			return s.lambdaResponse(event, http.StatusBadRequest, string(msg), requestID), nil
		}
		body = decoded
	}
	if len(body) > maxRequestBodySize {
		msg, _ := json.Marshal(errorBody{Errors: []errorMessage{{Message: errBodyTooBig.Error()}}})
		return s.lambdaResponse(event, http.StatusRequestEntityTooLarge, string(msg), requestID), nil
	}

	status, result := s.execute(ctx, body, header(event.Headers, "Authorization"))
	out, err := json.Marshal(result)
	if err != nil {
		s.logger.ErrorContext(ctx, "encoding graphql response", "error", err, "request_id", requestID)
		msg, _ := json.Marshal(errorBody{Errors: []errorMessage{{Message: "internal server error"}}})
		return s.lambdaResponse(event, http.StatusInternalServerError, string(msg), requestID), nil
	}

	s.logger.Info("lambda request",
		"method", event.RequestContext.HTTP.Method,
		"path", event.RawPath,
		"status", status,
		"request_id", requestID,
	)
	return s.lambdaResponse(event, status, string(out), requestID), nil
}

func (s *Server) lambdaResponse(event events.APIGatewayV2HTTPRequest, status int, body, requestID string) events.APIGatewayV2HTTPResponse {
	headers := map[string]string{
		"Content-Type": "application/json",
		"X-Request-ID": requestID,
	}
	if origin := header(event.Headers, "Origin"); origin != "" && s.isAllowedOrigin(origin) {
		headers["Access-Control-Allow-Origin"] = origin
		headers["Access-Control-Allow-Methods"] = "GET, POST, OPTIONS"
		headers["Access-Control-Allow-Headers"] = "Authorization, Content-Type, X-Request-ID"
		headers["Access-Control-Max-Age"] = "86400"
		headers["Vary"] = "Origin"
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       body,
	}
}

// header looks up a header case-insensitively. API Gateway lowercases names
// for HTTP APIs but test events often do not.
func header(headers map[string]string, name string) string {
	if v, ok := headers[strings.ToLower(name)]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
