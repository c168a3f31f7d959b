package repl

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/InsulaLabs/skiff/eval"
	"github.com/InsulaLabs/skiff/lang"
)

// Session is the state behind one repl: the persistent environment,
// the active strategy, and the input history. The bubbletea model
// mutates it only from command handlers, one line at a time.
type Session struct {
	sessionID string
	logger    *slog.Logger

	strategy eval.Strategy
	env      *eval.Env

	history       []string
	historyIndex  int
	currentBuffer string
	inHistoryMode bool

	startTimestamp time.Time
}

type Config struct {
	Logger   *slog.Logger
	Strategy eval.Strategy
}

func NewSession(config Config) *Session {

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	strategy := config.Strategy
	if !strategy.Valid() {
		strategy = eval.StrategyStrict
	}

	session := &Session{
		sessionID:      uuid.New().String(),
		logger:         config.Logger,
		strategy:       strategy,
		history:        []string{},
		historyIndex:   -1,
		inHistoryMode:  false,
		startTimestamp: time.Now(),
	}

	session.logger.Debug("Repl session started", "session_id", session.sessionID, "strategy", strategy)
	return session
}

func (s *Session) Strategy() eval.Strategy {
	return s.strategy
}

func (s *Session) SetStrategy(strategy eval.Strategy) {
	s.strategy = strategy
	s.logger.Debug("Strategy switched", "session_id", s.sessionID, "strategy", strategy)
}

// Prompt labels the input line with the active strategy so mode
// switches are visible at a glance.
func (s *Session) Prompt() string {
	return string(s.strategy) + "> "
}

// Eval parses and evaluates source against the session environment
// under the active strategy. The environment is not modified.
func (s *Session) Eval(source string) (eval.Value, error) {
	expr, err := lang.ParseSource(source)
	if err != nil {
		return nil, err
	}
	value, err := eval.Evaluate(s.strategy, expr, s.env)
	if err != nil {
		s.logger.Debug("Evaluation failed", "session_id", s.sessionID, "error", err)
		return nil, err
	}
	return value, nil
}

// Bind evaluates source and extends the session environment with the
// result. Later lines see the binding; earlier captured environments
// do not, since extension never mutates existing frames.
func (s *Session) Bind(name string, source string) (eval.Value, error) {
	value, err := s.Eval(source)
	if err != nil {
		return nil, err
	}
	s.env = s.env.Extend(name, value)
	return value, nil
}

// Parse returns the canonical rendering of source without evaluating.
func (s *Session) Parse(source string) (string, error) {
	expr, err := lang.ParseSource(source)
	if err != nil {
		return "", err
	}
	return lang.Format(expr), nil
}

func (s *Session) Bindings() []eval.Binding {
	return s.env.Bindings()
}

func (s *Session) Reset() {
	s.env = nil
	s.logger.Debug("Environment reset", "session_id", s.sessionID)
}

func (s *Session) AddToHistory(cmd string) {
	if cmd != "" {
		s.history = append(s.history, cmd)
		s.historyIndex = len(s.history)
		s.inHistoryMode = false
	}
}

func (s *Session) StartHistoryNavigation(currentBuffer string) {
	if !s.inHistoryMode {
		s.currentBuffer = currentBuffer
		s.inHistoryMode = true
		s.historyIndex = len(s.history)
	}
}

func (s *Session) IsInHistoryMode() bool {
	return s.inHistoryMode
}

func (s *Session) NavigateHistory(up bool) string {
	if len(s.history) == 0 {
		return ""
	}

	if up {
		if s.historyIndex > 0 {
			s.historyIndex--
			return s.history[s.historyIndex]
		}
	} else {
		if s.historyIndex < len(s.history)-1 {
			s.historyIndex++
			return s.history[s.historyIndex]
		} else {
			s.historyIndex = len(s.history)
			s.inHistoryMode = false
			return s.currentBuffer
		}
	}

	if s.historyIndex >= 0 && s.historyIndex < len(s.history) {
		return s.history[s.historyIndex]
	}

	return s.currentBuffer
}

func (s *Session) UserUptime() time.Duration {
	return time.Since(s.startTimestamp)
}

func (s *Session) BuildHelpText() string {
	var helpText string

	helpText += "Available Commands:\n\n"
	helpText += "  :mode [strict|lazy|lexical]  switch evaluation strategy, or show the current one\n"
	helpText += "  :bind <name> <expr>          evaluate <expr> and bind the result in the session\n"
	helpText += "  :parse <expr>                show the canonical form without evaluating\n"
	helpText += "  :env                         list visible bindings\n"
	helpText += "  :reset                       clear the session environment\n"
	helpText += "  :help                        display this help message\n"
	helpText += "  :quit                        exit the session\n\n"
	helpText += "Anything else is parsed and evaluated under the current strategy.\n"

	return helpText
}
