package models

/*
	Payloads shared by the playground service and its clients. Every
	error leaving the HTTP surface is an ErrorResponse whose ErrorType
	is one of the constants below, so clients can classify without
	string matching on messages.
*/

const (
	ErrorTypeSyntax      = "syntax"
	ErrorTypeUnbound     = "unbound_variable"
	ErrorTypeApplication = "application"
	ErrorTypeArithmetic  = "arithmetic"
	ErrorTypeBadRequest  = "bad_request"
	ErrorTypeNotFound    = "not_found"
	ErrorTypeRateLimited = "rate_limited"
	ErrorTypeInternal    = "internal"
)

type ErrorResponse struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

type PingResponse struct {
	Status     string   `json:"status"`
	Service    string   `json:"service"`
	Strategies []string `json:"strategies"`
}

type ParseRequest struct {
	Source string `json:"source"`
}

// ParseResponse carries the canonical re-rendering of the parsed
// expression; clients round-trip it to verify printer idempotence.
type ParseResponse struct {
	AST  string `json:"ast"`
	Kind string `json:"kind"`
}

type EvalRequest struct {
	Source   string `json:"source"`
	Strategy string `json:"strategy,omitempty"` // Defaults to the server's configured strategy
}

type EvalResponse struct {
	Value    string `json:"value"`
	Strategy string `json:"strategy"`
}

type SnippetCreateRequest struct {
	Source string `json:"source"`
}

type SnippetResponse struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

type SnippetEvalRequest struct {
	ID       string `json:"id"`
	Strategy string `json:"strategy,omitempty"`
}

type SnippetDeleteRequest struct {
	ID string `json:"id"`
}

/*
	Interactive sessions run over a websocket. Each connection owns a
	persistent environment; bind extends it, reset empties it, and
	strategy switches the evaluator for subsequent commands. The op is
	echoed back on every result so callers can pair frames.
*/

const (
	SessionOpEval     = "eval"
	SessionOpBind     = "bind"
	SessionOpEnv      = "env"
	SessionOpReset    = "reset"
	SessionOpStrategy = "strategy"
)

type SessionCommand struct {
	Op       string `json:"op"`
	Name     string `json:"name,omitempty"`     // bind only
	Source   string `json:"source,omitempty"`   // eval and bind
	Strategy string `json:"strategy,omitempty"` // strategy only
}

type SessionBinding struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type SessionResult struct {
	Op       string           `json:"op"`
	Value    string           `json:"value,omitempty"`
	Bindings []SessionBinding `json:"bindings,omitempty"`
	Strategy string           `json:"strategy,omitempty"`
	Error    *ErrorResponse   `json:"error,omitempty"`
}
