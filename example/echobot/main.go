// Command echobot is a minimal corvus client: it replies to any
// message that mentions it and logs every server it joins.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/corvusbot/corvus"
)

func main() {
	_ = godotenv.Load()

	logger := initLogger()
	token := getEnvOrDefault("DISCORD_TOKEN", "")
	if token == "" {
		logger.Error("DISCORD_TOKEN not set")
		os.Exit(1)
	}

	session, err := corvus.New(
		corvus.WithIdentity("token", token),
		corvus.WithBotName("echobot"),
		corvus.WithLogger(logger),
		corvus.WithFileTokenCache(getEnvOrDefault("TOKEN_CACHE_PATH", "echobot-tokens.json")),
	)
	if err != nil {
		logger.Error("failed to build session", "error", err)
		os.Exit(1)
	}

	session.On(corvus.KindReady, nil, func(payload any) {
		logger.Info("ready")
	})

	session.On(corvus.KindGuildCreate, nil, func(payload any) {
		ev, ok := payload.(corvus.GuildCreate)
		if !ok || ev.Server == nil {
			return
		}
		logger.Info("joined server", "server_id", ev.Server.ID, "name", ev.Server.Name)
	})

	session.On(corvus.KindMention, nil, func(payload any) {
		mention, ok := payload.(corvus.Mention)
		if !ok {
			return
		}
		reply := fmt.Sprintf("you said: %s", mention.Message.Content)
		ctx := context.Background()
		if _, err := session.SendMessage(ctx, mention.Message.ChannelID, reply, false); err != nil {
			logger.Warn("failed to send reply", "error", err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Run(ctx, true); err != nil {
		logger.Error("session failed to start", "error", err)
		os.Exit(1)
	}

	waitForShutdown()
	logger.Info("shutting down")
	session.Stop()
	session.Wait()
}

func initLogger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
