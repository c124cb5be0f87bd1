// Package cli provides the main command-line interface and HTTP server
// for the multi-agent coordination server. This package orchestrates the
// complete application lifecycle including configuration management,
// service initialization, HTTP server setup, and graceful shutdown
// handling.
//
// Architecture Overview:
//
//	CLI → Configuration → Services → HTTP Server → Routes
//	↓
//	Postgres (task graph, results, audits) ← LLM Gateway (planning, audit, synthesis)
//	↓
//	File-lock coordinator ← Redis cache (best-effort)
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentmesh/mcs/cache"
	"github.com/agentmesh/mcs/claim"
	"github.com/agentmesh/mcs/config"
	"github.com/agentmesh/mcs/filelock"
	"github.com/agentmesh/mcs/graph"
	"github.com/agentmesh/mcs/httpapi"
	"github.com/agentmesh/mcs/lifecycle"
	"github.com/agentmesh/mcs/llm"
	"github.com/agentmesh/mcs/store"
)

// cfgFile holds the path to the configuration file specified via the
// --config flag.
var cfgFile string

// RootCmd defines the main CLI command for the coordination server.
var RootCmd = &cobra.Command{
	Use:   "mcs",
	Short: "multi-agent coordination server: plans, dispatches, and audits agent task graphs",
	Long: `mcs coordinates a fleet of worker agents against a shared task graph:

- POST /v1/tasks plans a DAG of tasks from a natural-language request
- GET /v1/tasks/ready lets a worker claim its next unit of work
- POST /v1/results records a completed task and propagates readiness
- the workflow is audited and synthesized automatically once every task completes

Configuration can be provided via command-line flags, environment
variables, or a YAML configuration file with the usual precedence.`,
	RunE: runServer,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mcs.yaml)")
	RootCmd.PersistentFlags().Int("port", 0, "HTTP server port")
	RootCmd.PersistentFlags().String("database-url", "", "Postgres connection string")
	RootCmd.PersistentFlags().String("server-token", "", "bearer token clients must present")
	RootCmd.PersistentFlags().String("llm-base-url", "", "LLM gateway base URL")
	RootCmd.PersistentFlags().String("llm-api-key", "", "LLM gateway API key")
	RootCmd.PersistentFlags().String("llm-model", "", "LLM model name")
	RootCmd.PersistentFlags().String("cache-url", "", "Redis cache URL (optional)")

	viper.BindPFlag("port", RootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("mcs_db.url", RootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("mcs_auth.bearer_token", RootCmd.PersistentFlags().Lookup("server-token"))
	viper.BindPFlag("mcs_llm.base_url", RootCmd.PersistentFlags().Lookup("llm-base-url"))
	viper.BindPFlag("mcs_llm.api_key", RootCmd.PersistentFlags().Lookup("llm-api-key"))
	viper.BindPFlag("mcs_llm.model", RootCmd.PersistentFlags().Lookup("llm-model"))
	viper.BindPFlag("mcs_cache.url", RootCmd.PersistentFlags().Lookup("cache-url"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mcs")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	// The config package reads its settings straight from the process
	// environment at startup; mirror anything sourced from a flag or
	// config file back into the environment so it takes the same
	// precedence there.
	port := ""
	if p := viper.GetInt("port"); p > 0 {
		port = strconv.Itoa(p)
	}
	for _, kv := range [][2]string{
		{"MCS_DB_URL", viper.GetString("mcs_db.url")},
		{"MCS_AUTH_BEARER_TOKEN", viper.GetString("mcs_auth.bearer_token")},
		{"MCS_LLM_BASE_URL", viper.GetString("mcs_llm.base_url")},
		{"MCS_LLM_API_KEY", viper.GetString("mcs_llm.api_key")},
		{"MCS_LLM_MODEL", viper.GetString("mcs_llm.model")},
		{"MCS_CACHE_URL", viper.GetString("mcs_cache.url")},
		{"MCS_PORT", port},
	} {
		if kv[1] != "" {
			os.Setenv(kv[0], kv[1])
		}
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	svcCfg := config.LoadServiceConfig("MCS")
	if level, err := logrus.ParseLevel(svcCfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if svcCfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	log := logrus.NewEntry(logger)

	serverCfg := config.LoadServerConfig("MCS")
	dbCfg := config.LoadDatabaseConfig("MCS_DB")
	cacheCfg := config.LoadCacheConfig("MCS_CACHE")
	coordCfg := config.LoadCoordinationConfig("MCS_COORD")
	llmCfg := config.LoadLLMGatewayConfig("MCS_LLM")
	authCfg := config.LoadAuthConfig("MCS_AUTH")

	ctx := context.Background()

	pool, err := store.NewPool(ctx, dbCfg.URL, int32(dbCfg.MaxConnections))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	st := store.New(pool, log)
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	records, err := store.NewRecordStore(dbCfg.URL)
	if err != nil {
		log.WithError(err).Warn("file-lock record store unavailable, advisory locking stays process-local")
	}
	lockMgr := filelock.New(filelock.Config{Records: records, PollWait: coordCfg.LockTimeout / 50})

	claimCoord := claim.NewWithConfig(claim.Config{
		Pool:        pool,
		Locker:      lockMgr,
		LockTimeout: coordCfg.LockTimeout,
		Log:         log,
	})
	resolver := graph.New(pool)
	gateway := llm.New(llm.Config{
		BaseURL:    llmCfg.BaseURL,
		APIKey:     llmCfg.APIKey,
		Model:      llmCfg.Model,
		MaxTokens:  llmCfg.MaxTokens,
		MaxRetries: llmCfg.MaxRetries,
		Timeout:    llmCfg.Timeout,
	}, log)

	lifecycleCtl := lifecycle.New(lifecycle.Config{
		Store:          st,
		Resolver:       resolver,
		Gateway:        gateway,
		Locks:          claimCoord,
		ProjectsRoot:   coordCfg.ProjectsRoot,
		AuditThreshold: 0.8,
	}, log)

	respCache := cache.New(cacheCfg.URL, cacheCfg.TTL, log)
	defer respCache.Close()

	echoSrv := httpapi.NewEchoServer(httpapi.ServerConfig{
		Port:            serverCfg.Port,
		Debug:           serverCfg.Debug,
		ReadTimeout:     serverCfg.ReadTimeout,
		WriteTimeout:    serverCfg.WriteTimeout,
		ShutdownTimeout: serverCfg.ShutdownTimeout,
	}, log)

	api := httpapi.NewWithCache(st, claimCoord, lifecycleCtl, respCache)
	httpapi.RegisterRoutes(echoSrv, api, authCfg.BearerToken)

	go func() {
		log.Infof("server starting on port %d", serverCfg.Port)
		err := httpapi.StartServer(echoSrv, httpapi.ServerConfig{
			Port: serverCfg.Port, ReadTimeout: serverCfg.ReadTimeout, WriteTimeout: serverCfg.WriteTimeout,
		})
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	if err := httpapi.GracefulShutdown(echoSrv, serverCfg.ShutdownTimeout); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	return nil
}
