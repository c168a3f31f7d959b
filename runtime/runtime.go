package runtime

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/InsulaLabs/skiff/config"
	"github.com/InsulaLabs/skiff/service"
	"github.com/InsulaLabs/skiff/store"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Runtime manages the execution of skiffd, handling configuration,
// signal processing, and the lifecycle of the playground service.
type Runtime struct {
	appCtx     context.Context
	appCancel  context.CancelFunc
	logger     *slog.Logger
	cfg        *config.Config
	configFile string
	rawArgs    []string // To allow flag parsing within New
	service    *service.Service

	currentLogLevel slog.Level
}

// New creates a new Runtime instance.
// It initializes the application context, sets up signal handling,
// parses command-line flags, and loads the service configuration.
func New(args []string, defaultConfigFile string) (*Runtime, error) {

	r := &Runtime{
		rawArgs: args,
	}

	r.appCtx, r.appCancel = context.WithCancel(context.Background())
	r.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", "skiffdRuntime")

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		r.logger.Info("Received signal, initiating shutdown...", "signal", sig)
		r.appCancel()
	}()

	var genConfigFile string
	// Parse flags
	fs := flag.NewFlagSet("runtime", flag.ContinueOnError)
	fs.StringVar(&r.configFile, "config", defaultConfigFile, "Path to the service configuration file.")
	fs.StringVar(&genConfigFile, "new-cfg", "", "Generate a new service configuration file to a given path.")

	if err := fs.Parse(r.rawArgs); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if genConfigFile != "" {
		cfg, err := config.GenerateConfig(genConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to generate configuration: %w", err)
		}

		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal generated config to YAML: %w", err)
		}

		dir := filepath.Dir(genConfigFile)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory for config file %s: %w", genConfigFile, err)
			}
		}

		if err := os.WriteFile(genConfigFile, yamlData, 0644); err != nil {
			return nil, fmt.Errorf("failed to write generated configuration to %s: %w", genConfigFile, err)
		}

		r.logger.Info("Successfully generated new configuration file", "path", genConfigFile)
		os.Exit(0)
	}

	var err error
	r.cfg, err = config.LoadConfig(r.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", r.configFile, err)
	}

	// Set the log level
	if r.cfg.Logging.Level != "" {
		switch r.cfg.Logging.Level {
		case "debug":
			r.currentLogLevel = slog.LevelDebug
		case "info":
			r.currentLogLevel = slog.LevelInfo
		case "warn":
			r.currentLogLevel = slog.LevelWarn
		case "error":
			r.currentLogLevel = slog.LevelError
		default:
			color.HiYellow("Unknown logging level: %s, defaulting to info", r.cfg.Logging.Level)
			r.currentLogLevel = slog.LevelInfo
		}
	}

	r.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: r.currentLogLevel,
	})).With("service", "skiffdRuntime")

	return r, nil
}

// Run starts the playground service and blocks until shutdown.
func (r *Runtime) Run() error {
	if r.cfg == nil {
		// This situation can occur if New() was called with the --new-cfg flag,
		// which completes its task by generating the configuration file. In that path,
		// r.cfg is not loaded. Calling Run() subsequently is likely an unintentional
		// continuation by the caller.
		r.logger.Info("Runtime.Run called when cfg is not loaded (e.g., after --new-cfg). Nothing to run. Aborting Run operation.")
		return nil
	}

	r.startService()

	// startService blocks until the server has shut down; cancel the
	// app context so Wait releases when the server exits on its own.
	r.appCancel()
	r.logger.Info("Service shutting down or completed.")
	return nil
}

// startService sets up the data directory, TLS material, and snippet
// store, then runs the service until the app context ends.
func (r *Runtime) startService() {
	r.logger.Info("Starting service instance")

	if err := os.MkdirAll(r.cfg.SkiffHome, os.ModePerm); err != nil {
		r.logger.Error("Failed to create skiffHome", "path", r.cfg.SkiffHome, "error", err)
		os.Exit(1)
	}

	// A configured TLS pair that does not exist on disk yet gets
	// generated self-signed, so a fresh install can serve https
	// immediately.
	if r.cfg.Service.TLS.Cert != "" {
		if _, err := os.Stat(r.cfg.Service.TLS.Cert); os.IsNotExist(err) {
			r.logger.Info("Configured TLS material not found, generating", "cert", r.cfg.Service.TLS.Cert)
			r.setupKeys(r.cfg.Service.TLS.Cert, r.cfg.Service.TLS.Key)
		}
	}

	snippetDir := filepath.Join(r.cfg.SkiffHome, config.SnippetsDirName)

	snippets, err := store.New(store.Config{
		Logger:         r.logger,
		BadgerLogLevel: r.currentLogLevel,
		Directory:      snippetDir,
		SnippetTTL:     r.cfg.Store.SnippetTTL,
	})
	if err != nil {
		r.logger.Error("Failed to open snippet store", "directory", snippetDir, "error", err)
		os.Exit(1)
	}
	defer snippets.Close()

	r.service, err = service.New(
		r.appCtx, // Use the runtime's app context
		r.logger.WithGroup("service"),
		r.cfg,
		snippets,
	)
	if err != nil {
		r.logger.Error("Failed to create service", "error", err)
		os.Exit(1)
	}

	r.service.Run()
}

// Wait for the runtime to complete its operations.
// This is typically when the application context is canceled.
func (r *Runtime) Wait() {
	<-r.appCtx.Done()
	r.logger.Info("Runtime has been shut down.")
}

// Stop gracefully shuts down the runtime by canceling its context.
func (r *Runtime) Stop() {
	r.logger.Info("Runtime stop requested.")
	r.appCancel()
}

func (r *Runtime) GetHomeDir() string {
	return r.cfg.SkiffHome
}

func (r *Runtime) setupKeys(certPath, keyPath string) {

	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			r.logger.Error("Failed to create keys directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		r.logger.Error("Failed to generate private key", "error", err)
		os.Exit(1)
	}

	notBefore := time.Now()
	notAfter := notBefore.AddDate(10, 0, 0)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"[ S K I F F - L O C A L ]"},
			CommonName:   "skiffd",
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,

		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	// Initialize DNSNames and IPAddresses with defaults
	template.DNSNames = []string{"localhost"}
	template.IPAddresses = []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}

	// The certificate must be valid for the service binding and for
	// the domain clients connect through.
	for _, binding := range []string{r.cfg.Service.HttpBinding, r.cfg.Service.ClientDomain} {
		if binding == "" {
			continue
		}
		host, _, err := net.SplitHostPort(binding)
		if err != nil {
			host = binding // Was likely just a host with no port
		}
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if host != "" {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	// Remove duplicates
	template.IPAddresses = removeDuplicateIPs(template.IPAddresses)
	template.DNSNames = removeDuplicateStrings(template.DNSNames)

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		r.logger.Error("Failed to create certificate", "error", err)
		os.Exit(1)
	}

	// Create PEM files for cert and key
	certOut, err := os.Create(certPath)
	if err != nil {
		r.logger.Error("Failed to open certificate file for writing", "path", certPath, "error", err)
		os.Exit(1)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		r.logger.Error("Failed to write certificate data", "path", certPath, "error", err)
		os.Exit(1)
	}
	r.logger.Info("Generated certificate", "path", certOut.Name())

	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		r.logger.Error("Failed to open key file for writing", "path", keyPath, "error", err)
		os.Exit(1)
	}
	defer keyOut.Close()
	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes}); err != nil {
		r.logger.Error("Failed to write key data", "path", keyPath, "error", err)
		os.Exit(1)
	}

	// Sleep to ensure the files are written before we attempt to use them
	time.Sleep(1 * time.Second)
	r.logger.Info("Generated key", "path", keyOut.Name())
}

func removeDuplicateIPs(ips []net.IP) []net.IP {
	seen := make(map[string]bool)
	result := []net.IP{}
	for _, ip := range ips {
		if ip == nil {
			continue
		}
		ipStr := ip.String()
		if _, ok := seen[ipStr]; !ok {
			seen[ipStr] = true
			result = append(result, ip)
		}
	}
	return result
}

func removeDuplicateStrings(s []string) []string {
	seen := make(map[string]bool)
	result := []string{}
	for _, item := range s {
		if _, ok := seen[item]; !ok {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}
