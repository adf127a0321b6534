package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/namikmesic/chatkit/apierror"
	"github.com/namikmesic/chatkit/completion"
	"github.com/namikmesic/chatkit/deployment"
	"github.com/rs/zerolog"
)

// statusClientClosed records exchanges whose client went away before the
// response was written.
const statusClientClosed = 499

const (
	endpointChatCompletion = "chat/completions"
	endpointRate           = "rate"
	endpointTokenize       = "tokenize"
	endpointTruncatePrompt = "truncate_prompt"
)

// call is the state shared by every deployment endpoint handler.
type call struct {
	deployment *Deployment
	params     completion.Parameters
	body       []byte
	exchange   Exchange
}

// begin resolves the deployment and reads the request. On failure the
// error has already been written to w.
func (s *Server) begin(w http.ResponseWriter, r *http.Request, endpoint string) (*call, bool) {
	id := r.PathValue("deployment_id")
	c := &call{
		exchange: Exchange{
			ID:             w.Header().Get(RequestIDHeader),
			DeploymentID:   id,
			Endpoint:       endpoint,
			Timestamp:      time.Now(),
			RequestHeaders: headerMap(r.Header),
		},
	}

	d, ok := s.router.Lookup(id)
	if !ok {
		s.fail(w, r, c, apierror.DeploymentNotFound("The API deployment for this resource does not exist."))
		return nil, false
	}
	if !implements(d, endpoint) {
		s.fail(w, r, c, apierror.EndpointNotFound(endpoint))
		return nil, false
	}
	c.deployment = d

	apiKey := r.Header.Get("Api-Key")
	if apiKey == "" {
		s.fail(w, r, c, apierror.InvalidRequest("Api-Key header is required"))
		return nil, false
	}
	c.params = completion.Parameters{
		APIKey:       apiKey,
		JWT:          r.Header.Get("Authorization"),
		DeploymentID: id,
		APIVersion:   r.URL.Query().Get("api-version"),
		Headers:      r.Header.Clone(),
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apierror.New(http.StatusRequestEntityTooLarge, "Request body is too large", apierror.WithType(apierror.TypeInvalidRequest))
		} else {
			err = apierror.InvalidRequest("Failed to read request body")
		}
		s.fail(w, r, c, err)
		return nil, false
	}
	c.body = body
	c.exchange.RequestBody = body
	return c, true
}

func implements(d *Deployment, endpoint string) bool {
	switch endpoint {
	case endpointRate:
		return d.Rate != nil
	case endpointTokenize:
		return d.Tokenize != nil
	case endpointTruncatePrompt:
		return d.TruncatePrompt != nil
	}
	return d.ChatCompletion != nil
}

func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	c, ok := s.begin(w, r, endpointChatCompletion)
	if !ok {
		return
	}

	req, err := completion.ParseRequest(c.body, c.params)
	if err != nil {
		s.fail(w, r, c, err)
		return
	}
	c.exchange.Stream = req.Stream

	resp := completion.NewResponse(req)
	if err := resp.Start(r.Context(), c.deployment.ChatCompletion); err != nil {
		s.fail(w, r, c, err)
		return
	}

	if req.Stream {
		s.stream(w, r, c, resp)
		return
	}

	doc, err := resp.Block(r.Context())
	if err != nil {
		s.fail(w, r, c, err)
		return
	}
	s.succeed(w, c, doc)
}

func (s *Server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	c, ok := s.begin(w, r, endpointTokenize)
	if !ok {
		return
	}
	req, err := deployment.ParseTokenizeRequest(c.body, c.params)
	if err != nil {
		s.fail(w, r, c, err)
		return
	}
	out, err := c.deployment.Tokenize(r.Context(), req)
	if err != nil {
		s.fail(w, r, c, err)
		return
	}
	s.succeed(w, c, out)
}

func (s *Server) handleTruncatePrompt(w http.ResponseWriter, r *http.Request) {
	c, ok := s.begin(w, r, endpointTruncatePrompt)
	if !ok {
		return
	}
	req, err := deployment.ParseTruncatePromptRequest(c.body, c.params)
	if err != nil {
		s.fail(w, r, c, err)
		return
	}
	out, err := c.deployment.TruncatePrompt(r.Context(), req)
	if err != nil {
		s.fail(w, r, c, err)
		return
	}
	s.succeed(w, c, out)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	c, ok := s.begin(w, r, endpointRate)
	if !ok {
		return
	}
	req, err := deployment.ParseRateRequest(c.body, c.params)
	if err != nil {
		s.fail(w, r, c, err)
		return
	}
	if err := c.deployment.Rate(r.Context(), req); err != nil {
		s.fail(w, r, c, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	c.exchange.StatusCode = http.StatusOK
	s.done(c)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// succeed writes v as the 200 response of the call.
func (s *Server) succeed(w http.ResponseWriter, c *call, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		body, _ = json.Marshal(apierror.RuntimeServer(apierror.RuntimeErrorMessage).Envelope())
		c.exchange.StatusCode = http.StatusInternalServerError
		c.exchange.ErrorMessage = err.Error()
	} else {
		c.exchange.StatusCode = http.StatusOK
	}
	writeBody(w, c.exchange.StatusCode, body)
	c.exchange.ResponseBody = body
	s.done(c)
}

// fail writes err as an error envelope. Errors outside the taxonomy are
// logged in full and reach the client as an opaque runtime error. Nothing is
// written once the client has disconnected.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, c *call, err error) {
	if r.Context().Err() != nil && errors.Is(err, context.Canceled) {
		zerolog.Ctx(r.Context()).Debug().Err(err).Str("deployment_id", c.exchange.DeploymentID).Msg("client disconnected")
		c.exchange.StatusCode = statusClientClosed
		c.exchange.ErrorMessage = err.Error()
		s.done(c)
		return
	}
	if !apierror.IsClassified(err) {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("deployment_id", c.exchange.DeploymentID).Msg(apierror.RuntimeErrorMessage)
	}
	apiErr := apierror.From(err)
	body, _ := json.Marshal(apiErr.Envelope())
	writeBody(w, apiErr.StatusCode, body)

	c.exchange.StatusCode = apiErr.StatusCode
	c.exchange.ResponseBody = body
	c.exchange.ErrorMessage = apiErr.Message
	s.done(c)
}

func (s *Server) done(c *call) {
	if s.tap == nil {
		return
	}
	c.exchange.DurationMs = time.Since(c.exchange.Timestamp).Milliseconds()
	s.tap.Done(c.exchange)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(apierror.RuntimeServer(apierror.RuntimeErrorMessage).Envelope())
	}
	writeBody(w, status, body)
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
