package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/conductorhq/conductor/internal/connector"
	"github.com/conductorhq/conductor/internal/connector/actions"
	"github.com/conductorhq/conductor/internal/pkg/httpclient"
	"github.com/conductorhq/conductor/internal/pkg/logger"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func main() {
	viper.SetEnvPrefix("connector")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", true)
	viper.SetDefault("host", "0.0.0.0")
	viper.SetDefault("port", 8081)
	viper.SetDefault("engine.url", "http://localhost:8080")

	// WORKFLOW_ENGINE_URL is the conventional override in deployments.
	_ = viper.BindEnv("engine.url", "WORKFLOW_ENGINE_URL")

	logger.Init(viper.GetString("environment"), viper.GetBool("debug"))

	core := actions.NewCoreConnector()

	log.Info().
		Str("connector", core.ID()).
		Int("actions", len(core.Definitions())).
		Msg("Starting connector service")

	server := connector.NewServer(core, viper.GetString("host"), viper.GetInt("port"))
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Connector server error")
		}
	}()

	registerCtx, cancelRegister := context.WithCancel(context.Background())
	go func() {
		client := httpclient.NewPooledClient(httpclient.DefaultConfig())
		if err := connector.RegisterWithEngine(registerCtx, client, viper.GetString("engine.url"), core); err != nil {
			log.Error().Err(err).Msg("Engine registration abandoned")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down connector")
	cancelRegister()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Connector shutdown error")
	}
}
