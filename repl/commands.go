package repl

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/InsulaLabs/skiff/eval"
)

type metaCmdHandler func(session *Session, args []string) tea.Cmd

func outputCmd(output string, isErr bool) tea.Cmd {
	return func() tea.Msg {
		return commandOutputMsg{output: output, isErr: isErr}
	}
}

// evalCmd runs a plain expression line against the session.
func evalCmd(session *Session, source string) tea.Cmd {
	return func() tea.Msg {
		value, err := session.Eval(source)
		if err != nil {
			// The repl always continues after an error; the next line
			// gets a fresh shot at the same environment.
			return commandOutputMsg{output: err.Error(), isErr: true}
		}
		return commandOutputMsg{output: value.String(), isErr: false}
	}
}

func getMetaCommandMap() map[string]metaCmdHandler {
	return map[string]metaCmdHandler{
		":quit": func(session *Session, args []string) tea.Cmd {
			session.logger.Info("Repl session ended", "session_id", session.sessionID, "uptime", session.UserUptime())
			return tea.Quit
		},
		":help": func(session *Session, args []string) tea.Cmd {
			return outputCmd(session.BuildHelpText(), false)
		},
		":mode": func(session *Session, args []string) tea.Cmd {
			if len(args) == 0 {
				return outputCmd("current mode: "+string(session.Strategy()), false)
			}
			strategy := eval.Strategy(args[0])
			if !strategy.Valid() {
				return outputCmd("unknown mode "+args[0]+", expected strict, lazy, or lexical", true)
			}
			session.SetStrategy(strategy)
			return outputCmd("mode set to "+string(strategy), false)
		},
		":bind": func(session *Session, args []string) tea.Cmd {
			if len(args) < 2 {
				return outputCmd("usage: :bind <name> <expr>", true)
			}
			name := args[0]
			source := strings.Join(args[1:], " ")
			value, err := session.Bind(name, source)
			if err != nil {
				return outputCmd(err.Error(), true)
			}
			return outputCmd(name+" = "+value.String(), false)
		},
		":parse": func(session *Session, args []string) tea.Cmd {
			if len(args) == 0 {
				return outputCmd("usage: :parse <expr>", true)
			}
			formatted, err := session.Parse(strings.Join(args, " "))
			if err != nil {
				return outputCmd(err.Error(), true)
			}
			return outputCmd(formatted, false)
		},
		":env": func(session *Session, args []string) tea.Cmd {
			bindings := session.Bindings()
			if len(bindings) == 0 {
				return outputCmd("(empty environment)", false)
			}
			var b strings.Builder
			for _, binding := range bindings {
				fmt.Fprintf(&b, "%s = %s\n", binding.Name, binding.Value.String())
			}
			return outputCmd(strings.TrimRight(b.String(), "\n"), false)
		},
		":reset": func(session *Session, args []string) tea.Cmd {
			session.Reset()
			return outputCmd("environment cleared", false)
		},
	}
}
