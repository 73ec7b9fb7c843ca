package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"palchat/internal/config"
	"palchat/internal/history"
	"palchat/internal/identity"
	"palchat/internal/mockagent"
	"palchat/internal/storage"
)

const usage = `usage: palchat <command> [flags]

commands:
  chat        interactive session against the agent backend
  threads     list conversations from the local index
  history     print the persisted history of a conversation
  serve-mock  run the scripted agent backend
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	flags := pflag.NewFlagSet(cmd, pflag.ExitOnError)
	cfgPath := flags.StringP("config", "c", "", "path to config file (defaults to PALCHAT_CONFIG)")
	userID := flags.StringP("user", "u", "", "user id sent with every request")
	threadID := flags.StringP("thread", "t", "", "conversation thread id")
	addr := flags.String("addr", "", "listen address for serve-mock")
	stepDelay := flags.Duration("step-delay", 300*time.Millisecond, "pause between scripted status frames")
	if err := flags.Parse(args); err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	setupLogging(cfg.Log)
	if *userID != "" {
		cfg.BasicConfig.UserID = *userID
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve-mock":
		if *addr != "" {
			cfg.BasicConfig.ServerAddress = *addr
		}
		err = serveMock(cfg, *stepDelay)
	case "chat":
		err = runChat(ctx, cfg, *threadID)
	case "threads":
		err = listThreads(ctx, cfg)
	case "history":
		err = printHistory(ctx, cfg, *threadID)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func openStore(cfg *config.Config) (*storage.Store, func(), error) {
	dbType := cfg.BasicConfig.Database
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	log.WithField("driver", dbType).Debug("database ready")
	return storage.NewStore(db), func() { db.Close() }, nil
}

func serveMock(cfg *config.Config, stepDelay time.Duration) error {
	store, closeDB, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	agent := mockagent.New(store, mockagent.WithStepDelay(stepDelay))
	router := gin.Default()
	agent.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8000"
	}
	log.WithField("addr", addr).Info("scripted agent listening")
	return router.Run(addr)
}

func requireUser(cfg *config.Config) (identity.Static, error) {
	if cfg.BasicConfig.UserID == "" {
		return "", fmt.Errorf("a user id is required (--user or basic_config.user_id)")
	}
	return identity.Static(cfg.BasicConfig.UserID), nil
}

func listThreads(ctx context.Context, cfg *config.Config) error {
	user, err := requireUser(cfg)
	if err != nil {
		return err
	}
	store, closeDB, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	convs, err := store.ListConversations(ctx, user.UserID())
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("no conversations yet")
		return nil
	}
	for _, c := range convs {
		fmt.Printf("%s  %s  %s\n", c.ThreadID, c.UpdatedAt.Local().Format("2006-01-02 15:04"), c.Title)
	}
	return nil
}

func printHistory(ctx context.Context, cfg *config.Config, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("--thread is required")
	}
	user, err := requireUser(cfg)
	if err != nil {
		return err
	}
	client := history.NewClient(cfg.BasicConfig.BaseURL)
	identity.Attach(client.HTTP(), user)

	snap, err := client.Fetch(ctx, threadID)
	if err != nil {
		return err
	}
	out := newPrinter(os.Stdout)
	for _, m := range snap.Messages {
		out.message(m)
	}
	if snap.PendingInterrupt != nil {
		out.interrupt(snap.PendingInterrupt)
	}
	return nil
}
