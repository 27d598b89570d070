package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/jirabridge/jirabridge/internal/config"
	"github.com/jirabridge/jirabridge/internal/database"
	"github.com/jirabridge/jirabridge/internal/filter"
	"github.com/jirabridge/jirabridge/internal/handler"
	"github.com/jirabridge/jirabridge/internal/issue"
	"github.com/jirabridge/jirabridge/internal/jira"
	"github.com/jirabridge/jirabridge/internal/outlook"
	"github.com/jirabridge/jirabridge/internal/parser"
	"github.com/jirabridge/jirabridge/internal/reply"
	"github.com/jirabridge/jirabridge/internal/template"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting mail-to-jira bridge", "principal", cfg.Principal)

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Create components
	templates, err := template.NewEngine()
	if err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}
	htmlParser := parser.NewHTMLParser()

	tokens := outlook.NewTokenSource(outlook.TokenConfig{
		LoginBaseURL: cfg.LoginBaseURL,
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, db, logger)

	mailbox := outlook.NewClient(outlook.Config{
		BaseURL:    cfg.GraphBaseURL,
		Principal:  cfg.Principal,
		MaxRetries: cfg.MaxRetries,
	}, tokens, logger)

	tracker := jira.NewClient(jira.Config{
		BaseURL:    cfg.JiraURL,
		Username:   cfg.JiraUser,
		APIToken:   cfg.JiraToken,
		MaxRetries: cfg.MaxRetries,
	}, logger)

	issues := issue.NewService(tracker, db, templates, issue.Options{
		ProjectKey:    cfg.JiraProjectKey,
		IssueType:     cfg.JiraIssueType,
		DefaultLabels: cfg.JiraDefaultLabels,
	}, logger)

	author := reply.NewAuthor(mailbox, htmlParser, templates, logger)

	// Filter order matters: the comment relay consumes and deletes its
	// messages before the structural filters could discard them, and echo
	// suppression runs last over whatever survived.
	chain := filter.NewChain(logger,
		filter.NewCommentRelayFilter(cfg.AutomationDomain, issues, tracker, mailbox, author, logger),
		filter.NewSenderBlacklistFilter(cfg.BlacklistedAddresses, logger),
		filter.NewSenderWhitelistFilter(cfg.WhitelistedDomains, logger),
		filter.NewRecipientDuplicateFilter(cfg.Principal, cfg.IgnoredFolders, logger),
		filter.NewNewConversationFilter(cfg.Principal, issues, logger),
		filter.NewEchoFilter(issues, logger),
	)

	h := handler.New(handler.Deps{
		Mailbox:   mailbox,
		Issues:    issues,
		Chain:     chain,
		Author:    author,
		Parser:    htmlParser,
		Templates: templates,
		Logger:    logger,
	})

	subscriber := outlook.NewSubscriber(mailbox, outlook.SubscriptionConfig{
		ConnectionTimeout: cfg.ConnectionTimeout,
		KeepAliveInterval: cfg.KeepAliveInterval,
	}, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		logger.Info("shutting down...")
		cancel()
	}()

	logger.Info("bridge is running, press Ctrl+C to stop")
	if err := subscriber.Listen(ctx, h); err != nil && ctx.Err() == nil {
		logger.Error("subscription terminated", "error", err)
		os.Exit(1)
	}

	logger.Info("bridge stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
