package service

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/jellydator/ttlcache/v3"

	"github.com/InsulaLabs/skiff/eval"
	"github.com/InsulaLabs/skiff/lang"
	"github.com/InsulaLabs/skiff/models"
)

// parseProgram consults the parse cache before handing the source to
// the language parser. Cached expressions are immutable and shared.
func (s *Service) parseProgram(source string) (lang.Expr, error) {
	if item := s.parseCache.Get(source); item != nil {
		return item.Value(), nil
	}
	expr, err := lang.ParseSource(source)
	if err != nil {
		return nil, err
	}
	s.parseCache.Set(source, expr, ttlcache.DefaultTTL)
	return expr, nil
}

// resolveStrategy applies the configured default when the request
// leaves the strategy blank.
func (s *Service) resolveStrategy(requested string) (eval.Strategy, bool) {
	if requested == "" {
		return s.defaultStrategy, true
	}
	strategy := eval.Strategy(requested)
	return strategy, strategy.Valid()
}

func (s *Service) readJSONBody(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("Could not read request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, models.ErrorTypeBadRequest, "could not read request body")
		return false
	}
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		s.logger.Error("Invalid JSON payload", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, models.ErrorTypeBadRequest, "invalid JSON payload: "+err.Error())
		return false
	}
	return true
}

// checkSource enforces the configured source size cap. Evaluation
// recursion is bounded by input size, so capping the source here is
// what keeps a single request from exhausting the stack.
func (s *Service) checkSource(w http.ResponseWriter, source string) bool {
	if source == "" {
		writeError(w, http.StatusBadRequest, models.ErrorTypeBadRequest, "missing source")
		return false
	}
	if len(source) > s.cfg.Service.MaxSourceBytes {
		writeError(w, http.StatusBadRequest, models.ErrorTypeBadRequest, "source exceeds maximum size")
		return false
	}
	return true
}

func (s *Service) respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Could not encode response", "error", err)
	}
}

func strategyNames() []string {
	strategies := eval.Strategies()
	names := make([]string, len(strategies))
	for i, strategy := range strategies {
		names[i] = string(strategy)
	}
	return names
}

func (s *Service) pingHandler(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, models.ErrorTypeBadRequest, "method not allowed")
		return
	}

	if !s.validateApiKey(w, r) {
		return
	}

	s.respondJSON(w, models.PingResponse{
		Status:     "ok",
		Service:    "skiff",
		Strategies: strategyNames(),
	})
}

func (s *Service) parseHandler(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, models.ErrorTypeBadRequest, "method not allowed")
		return
	}

	if !s.validateApiKey(w, r) {
		return
	}

	var p models.ParseRequest
	if !s.readJSONBody(w, r, &p) {
		return
	}
	if !s.checkSource(w, p.Source) {
		return
	}

	expr, err := s.parseProgram(p.Source)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, models.ParseResponse{
		AST:  lang.Format(expr),
		Kind: string(expr.Kind()),
	})
}

func (s *Service) evalHandler(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, models.ErrorTypeBadRequest, "method not allowed")
		return
	}

	if !s.validateApiKey(w, r) {
		return
	}

	var p models.EvalRequest
	if !s.readJSONBody(w, r, &p) {
		return
	}
	if !s.checkSource(w, p.Source) {
		return
	}

	strategy, ok := s.resolveStrategy(p.Strategy)
	if !ok {
		writeError(w, http.StatusBadRequest, models.ErrorTypeBadRequest, "unknown strategy: "+p.Strategy)
		return
	}

	expr, err := s.parseProgram(p.Source)
	if err != nil {
		s.respondError(w, err)
		return
	}

	// Every /eval starts from the empty environment. Persistent
	// environments live in websocket sessions only.
	value, err := eval.Evaluate(strategy, expr, nil)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, models.EvalResponse{
		Value:    value.String(),
		Strategy: string(strategy),
	})
}

func (s *Service) snippetsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSnippet(w, r)
	case http.MethodGet:
		s.getSnippet(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, models.ErrorTypeBadRequest, "method not allowed")
	}
}

func (s *Service) createSnippet(w http.ResponseWriter, r *http.Request) {

	if !s.validateApiKey(w, r) {
		return
	}

	var p models.SnippetCreateRequest
	if !s.readJSONBody(w, r, &p) {
		return
	}
	if !s.checkSource(w, p.Source) {
		return
	}

	// Snippets must parse before they are stored; a saved snippet that
	// can't be evaluated later is useless to everyone.
	if _, err := s.parseProgram(p.Source); err != nil {
		s.respondError(w, err)
		return
	}

	id, err := s.store.Put(p.Source)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.logger.Debug("Snippet stored", "id", id, "source_bytes", len(p.Source))

	s.respondJSON(w, models.SnippetResponse{
		ID:     id,
		Source: p.Source,
	})
}

func (s *Service) getSnippet(w http.ResponseWriter, r *http.Request) {

	if !s.validateApiKey(w, r) {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, models.ErrorTypeBadRequest, "missing id parameter")
		return
	}

	source, err := s.store.Get(id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, models.SnippetResponse{
		ID:     id,
		Source: source,
	})
}

func (s *Service) snippetEvalHandler(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, models.ErrorTypeBadRequest, "method not allowed")
		return
	}

	if !s.validateApiKey(w, r) {
		return
	}

	var p models.SnippetEvalRequest
	if !s.readJSONBody(w, r, &p) {
		return
	}
	if p.ID == "" {
		writeError(w, http.StatusBadRequest, models.ErrorTypeBadRequest, "missing id")
		return
	}

	strategy, ok := s.resolveStrategy(p.Strategy)
	if !ok {
		writeError(w, http.StatusBadRequest, models.ErrorTypeBadRequest, "unknown strategy: "+p.Strategy)
		return
	}

	source, err := s.store.Get(p.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	expr, err := s.parseProgram(source)
	if err != nil {
		s.respondError(w, err)
		return
	}

	value, err := eval.Evaluate(strategy, expr, nil)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, models.EvalResponse{
		Value:    value.String(),
		Strategy: string(strategy),
	})
}

func (s *Service) snippetDeleteHandler(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, models.ErrorTypeBadRequest, "method not allowed")
		return
	}

	if !s.validateApiKey(w, r) {
		return
	}

	var p models.SnippetDeleteRequest
	if !s.readJSONBody(w, r, &p) {
		return
	}
	if p.ID == "" {
		writeError(w, http.StatusBadRequest, models.ErrorTypeBadRequest, "missing id")
		return
	}

	if err := s.store.Delete(p.ID); err != nil {
		s.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
