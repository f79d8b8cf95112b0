/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the results tabulation server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Resolve configuration (flags, then TABULATION_* environment)
  2. Initialize SQLite store
  3. Register the template catalog (builtin forms, plus --catalog file)
  4. Wire the engine and API handler
  5. Start server with graceful shutdown

CONFIGURATION:
  --port     HTTP server port (default: 8080, env TABULATION_PORT)
  --db       SQLite database path (default: tabulation.db, env TABULATION_DB)
             Use ":memory:" for an in-memory database
  --catalog  Optional template catalog JSON file (env TABULATION_CATALOG)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server serve --db=./data/tabulation.db

  # Run with in-memory database and extra forms
  ./server serve --db=:memory: --catalog=./forms/parliamentary.json

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openelect/results-tabulation/api"
	"github.com/openelect/results-tabulation/catalog"
	"github.com/openelect/results-tabulation/store/sqlite"
	"github.com/openelect/results-tabulation/tabulation"
)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Election results tabulation service",
	SilenceErrors: true,
	SilenceUsage:  true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tabulation HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "HTTP server port")
	serveCmd.Flags().String("db", "tabulation.db", "SQLite database path")
	serveCmd.Flags().String("catalog", "", "template catalog JSON file")

	viper.SetEnvPrefix("TABULATION")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("db", serveCmd.Flags().Lookup("db"))
	viper.BindPFlag("catalog", serveCmd.Flags().Lookup("catalog"))

	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	port := viper.GetInt("port")
	dbPath := viper.GetString("db")
	catalogPath := viper.GetString("catalog")

	// Initialize store
	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Register the template catalog
	ctx := context.Background()
	if err := registerTemplates(ctx, store, catalog.Builtin()); err != nil {
		return fmt.Errorf("failed to register builtin templates: %w", err)
	}
	if catalogPath != "" {
		templates, err := catalog.ParseFile(catalogPath)
		if err != nil {
			return fmt.Errorf("failed to load catalog %s: %w", catalogPath, err)
		}
		if err := registerTemplates(ctx, store, templates); err != nil {
			return fmt.Errorf("failed to register catalog templates: %w", err)
		}
	}

	// Wire the engine. AllowAll stands in for a real identity provider
	// integration; lock/unlock checks still run through the Authorizer.
	engine := tabulation.NewEngine(store, store, store, tabulation.AllowAll{}, nil)
	handler := api.NewHandler(engine)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Tabulation server starting on http://localhost:%d", port)
		log.Printf("API available at http://localhost:%d/api", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// registerTemplates inserts templates, skipping ones already registered so
// restarts against an existing database succeed.
func registerTemplates(ctx context.Context, store *sqlite.Store, templates []*tabulation.Template) error {
	for _, tpl := range templates {
		if _, err := store.Template(ctx, tpl.ID); err == nil {
			continue
		} else if !errors.Is(err, tabulation.ErrNotFound) {
			return err
		}
		if err := store.CreateTemplate(ctx, tpl); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
