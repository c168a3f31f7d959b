package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/InsulaLabs/skiff/client"
	"github.com/InsulaLabs/skiff/models"
	"github.com/fatih/color"
)

var (
	logger     *slog.Logger
	endpoint   string
	apiKey     string
	strategy   string
	timeout    time.Duration
	skipVerify bool
)

func init() {
	// Initialize logger
	logOpts := &slog.HandlerOptions{
		Level: slog.LevelWarn, // Keep CLI output clean; errors still surface
	}
	handler := slog.NewTextHandler(os.Stderr, logOpts)
	logger = slog.New(handler)

	flag.StringVar(&endpoint, "endpoint", "http://127.0.0.1:7101", "Playground service endpoint")
	flag.StringVar(&apiKey, "api-key", "", "API key. Defaults to the SKIFF_API_KEY environment variable.")
	flag.StringVar(&strategy, "strategy", "", "Evaluation strategy (strict, lazy, lexical). Defaults to the server's choice.")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	flag.BoolVar(&skipVerify, "skip-verify", false, "Skip TLS certificate verification")
}

func getClient() (*client.Client, error) {
	key := apiKey
	if key == "" {
		key = os.Getenv("SKIFF_API_KEY")
	}

	c, err := client.New(&client.Config{
		Endpoint:   endpoint,
		ApiKey:     key,
		SkipVerify: skipVerify,
		Timeout:    timeout,
		Logger:     logger.WithGroup("client"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", endpoint, err)
	}
	return c, nil
}

func main() {
	flag.Parse() // Parse command-line flags first

	args := flag.Args() // Get non-flag arguments
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	cli, err := getClient()
	if err != nil {
		logger.Error("Failed to initialize API client", "error", err)
		os.Exit(1)
	}

	switch command {
	case "ping":
		handlePing(cli, cmdArgs)
	case "parse":
		handleParse(cli, cmdArgs)
	case "eval":
		handleEval(cli, cmdArgs)
	case "snippet":
		handleSnippet(cli, cmdArgs)
	case "session":
		handleSession(cli, cmdArgs)
	default:
		logger.Error("Unknown command", "command", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: skiffc [flags] <command> [args...]\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  ping\n")
	fmt.Fprintf(os.Stderr, "  parse <expr>\n")
	fmt.Fprintf(os.Stderr, "  eval <expr>\n")
	fmt.Fprintf(os.Stderr, "  snippet put <expr>\n")
	fmt.Fprintf(os.Stderr, "  snippet get <id>\n")
	fmt.Fprintf(os.Stderr, "  snippet del <id>\n")
	fmt.Fprintf(os.Stderr, "  snippet eval <id>\n")
	fmt.Fprintf(os.Stderr, "  session\n")
	fmt.Fprintf(os.Stderr, "\nExpressions with spaces should be quoted: skiffc eval '(+ 1 2)'\n")
}

func handlePing(c *client.Client, args []string) {
	if len(args) != 0 {
		logger.Error("ping: takes no arguments")
		printUsage()
		os.Exit(1)
	}
	rsp, err := c.Ping()
	if err != nil {
		logger.Error("Ping failed", "error", err)
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	fmt.Printf("%s (%s) strategies: %s\n", rsp.Status, rsp.Service, strings.Join(rsp.Strategies, ", "))
}

func handleParse(c *client.Client, args []string) {
	if len(args) < 1 {
		logger.Error("parse: requires <expr>")
		printUsage()
		os.Exit(1)
	}
	source := strings.Join(args, " ")
	rsp, err := c.Parse(source)
	if err != nil {
		logger.Error("Parse failed", "error", err)
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	fmt.Printf("%s ; %s\n", rsp.AST, rsp.Kind)
}

func handleEval(c *client.Client, args []string) {
	if len(args) < 1 {
		logger.Error("eval: requires <expr>")
		printUsage()
		os.Exit(1)
	}
	source := strings.Join(args, " ")

	// Rate limited calls sleep out the server's Retry-After and go again.
	rsp, err := client.WithRetries(context.Background(), logger, func() (*models.EvalResponse, error) {
		return c.Eval(source, strategy)
	})
	if err != nil {
		logger.Error("Eval failed", "error", err)
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	fmt.Println(rsp.Value)
}

func handleSnippet(c *client.Client, args []string) {
	if len(args) < 1 {
		logger.Error("snippet: requires <sub-command> [args...]")
		printUsage()
		os.Exit(1)
	}

	subCommand := args[0]
	subArgs := args[1:]

	switch subCommand {
	case "put":
		if len(subArgs) < 1 {
			logger.Error("snippet put: requires <expr>")
			printUsage()
			os.Exit(1)
		}
		source := strings.Join(subArgs, " ")
		rsp, err := client.WithRetries(context.Background(), logger, func() (*models.SnippetResponse, error) {
			return c.CreateSnippet(source)
		})
		if err != nil {
			logger.Error("Snippet create failed", "error", err)
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		fmt.Println(rsp.ID)
	case "get":
		if len(subArgs) != 1 {
			logger.Error("snippet get: requires <id>")
			printUsage()
			os.Exit(1)
		}
		rsp, err := c.GetSnippet(subArgs[0])
		if err != nil {
			logger.Error("Snippet get failed", "id", subArgs[0], "error", err)
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		fmt.Println(rsp.Source)
	case "del":
		if len(subArgs) != 1 {
			logger.Error("snippet del: requires <id>")
			printUsage()
			os.Exit(1)
		}
		err := client.WithRetriesVoid(context.Background(), logger, func() error {
			return c.DeleteSnippet(subArgs[0])
		})
		if err != nil {
			logger.Error("Snippet delete failed", "id", subArgs[0], "error", err)
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		fmt.Println("OK")
	case "eval":
		if len(subArgs) != 1 {
			logger.Error("snippet eval: requires <id>")
			printUsage()
			os.Exit(1)
		}
		rsp, err := client.WithRetries(context.Background(), logger, func() (*models.EvalResponse, error) {
			return c.EvalSnippet(subArgs[0], strategy)
		})
		if err != nil {
			logger.Error("Snippet eval failed", "id", subArgs[0], "error", err)
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		fmt.Println(rsp.Value)
	default:
		logger.Error("snippet: unknown sub-command", "sub_command", subCommand)
		printUsage()
		os.Exit(1)
	}
}

/*
	session drives a server-side environment line by line. Plain lines
	evaluate, :bind extends the environment, :env lists it, :mode
	switches strategy, :reset clears, :quit leaves. The environment
	lives on the server and dies with the connection.
*/

func handleSession(c *client.Client, args []string) {
	if len(args) != 0 {
		logger.Error("session: takes no arguments")
		printUsage()
		os.Exit(1)
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := c.OpenSession(ctx)
	if err != nil {
		logger.Error("Failed to open session", "error", err)
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer session.Close()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, closing session", "signal", sig.String())
		session.Close()
		os.Exit(0)
	}()

	if strategy != "" {
		if _, err := session.SetStrategy(strategy); err != nil {
			red.Printf("could not set strategy: %v\n", err)
		}
	}

	cyan.Println("connected; :help for commands, :quit to leave")

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		if strings.HasPrefix(line, ":") {
			if !runSessionMeta(session, line, green, red, cyan) {
				return
			}
			fmt.Print("> ")
			continue
		}

		value, err := session.Eval(line)
		if err != nil {
			red.Println(err)
		} else {
			green.Println(value)
		}
		fmt.Print("> ")
	}
}

// runSessionMeta executes one meta command. Returns false when the
// session should end.
func runSessionMeta(session *client.Session, line string, green, red, cyan *color.Color) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit":
		return false
	case ":help":
		cyan.Println("  <expr>              evaluate against the session environment")
		cyan.Println("  :bind <name> <expr> evaluate and bind the result")
		cyan.Println("  :env                list bindings, innermost first")
		cyan.Println("  :mode <strategy>    switch to strict, lazy, or lexical")
		cyan.Println("  :reset              clear the environment")
		cyan.Println("  :quit               close the session")
	case ":bind":
		if len(fields) < 3 {
			red.Println("usage: :bind <name> <expr>")
			return true
		}
		value, err := session.Bind(fields[1], strings.Join(fields[2:], " "))
		if err != nil {
			red.Println(err)
			return true
		}
		green.Printf("%s = %s\n", fields[1], value)
	case ":env":
		bindings, err := session.Env()
		if err != nil {
			red.Println(err)
			return true
		}
		if len(bindings) == 0 {
			cyan.Println("(empty environment)")
			return true
		}
		for _, binding := range bindings {
			green.Printf("%s = %s\n", binding.Name, binding.Value)
		}
	case ":mode":
		if len(fields) != 2 {
			red.Println("usage: :mode <strict|lazy|lexical>")
			return true
		}
		set, err := session.SetStrategy(fields[1])
		if err != nil {
			red.Println(err)
			return true
		}
		cyan.Printf("mode set to %s\n", set)
	case ":reset":
		if err := session.Reset(); err != nil {
			red.Println(err)
			return true
		}
		cyan.Println("environment cleared")
	default:
		red.Printf("unknown command %s, try :help\n", fields[0])
	}
	return true
}
