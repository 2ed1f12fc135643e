package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexey-tyurin/messaging-service/internal/bootstrap"
	"github.com/alexey-tyurin/messaging-service/internal/config"
	"github.com/alexey-tyurin/messaging-service/internal/db"
	"github.com/alexey-tyurin/messaging-service/internal/lifecycle"
	"github.com/alexey-tyurin/messaging-service/internal/logger"
	"github.com/alexey-tyurin/messaging-service/internal/metrics"
	"github.com/alexey-tyurin/messaging-service/internal/repository"
	"github.com/alexey-tyurin/messaging-service/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var scannerCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Run the retry and stale-sending scanner",
	RunE:  runScanner,
}

func runScanner(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	redisClient, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	q, err := bootstrap.NewQueue(cfg, redisClient)
	if err != nil {
		return fmt.Errorf("queue init: %w", err)
	}
	defer func() { _ = q.Close() }()

	messagesRepo := repository.NewMessagesRepository(dbx)
	eventsRepo := repository.NewEventsRepository(dbx)
	machine := lifecycle.NewMachine(dbx, messagesRepo, eventsRepo)

	s := worker.NewScanner(worker.ScannerOpts{
		Messages:   messagesRepo,
		Machine:    machine,
		Queue:      q,
		Interval:   cfg.Scanner.Interval,
		StaleAfter: cfg.Scanner.StaleAfter,
		BatchSize:  cfg.Scanner.BatchSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> scanner started interval=%s staleAfter=%s batchSize=%d",
		cfg.Scanner.Interval, cfg.Scanner.StaleAfter, cfg.Scanner.BatchSize)

	s.Run(ctx)

	return nil
}
