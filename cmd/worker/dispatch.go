package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/alexey-tyurin/messaging-service/internal/bootstrap"
	"github.com/alexey-tyurin/messaging-service/internal/config"
	"github.com/alexey-tyurin/messaging-service/internal/db"
	"github.com/alexey-tyurin/messaging-service/internal/lifecycle"
	"github.com/alexey-tyurin/messaging-service/internal/logger"
	"github.com/alexey-tyurin/messaging-service/internal/metrics"
	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/alexey-tyurin/messaging-service/internal/repository"
	"github.com/alexey-tyurin/messaging-service/internal/retry"
	"github.com/alexey-tyurin/messaging-service/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var dispatchChannel string

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the send dispatcher (per channel or all)",
	RunE:  runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchChannel, "channel", "all", "channel to consume: sms | mms | email | all")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	var channels []model.Channel
	if dispatchChannel == "all" {
		channels = model.Channels()
	} else {
		c, ok := model.ParseChannel(dispatchChannel)
		if !ok {
			return fmt.Errorf("unknown channel %q", dispatchChannel)
		}
		channels = []model.Channel{c}
	}

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

	gw, err := bootstrap.NewGateway(cfg)
	if err != nil {
		return fmt.Errorf("gateway init: %w", err)
	}

	messagesRepo := repository.NewMessagesRepository(dbx)
	eventsRepo := repository.NewEventsRepository(dbx)
	machine := lifecycle.NewMachine(dbx, messagesRepo, eventsRepo)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "dispatcher"
	}
	consumer := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	d := worker.NewDispatcher(worker.DispatcherOpts{
		Queue:     q,
		Messages:  messagesRepo,
		Machine:   machine,
		Gateway:   gw,
		Scheduler: retry.NewScheduler(cfg.Retry.BaseDelay, cfg.Retry.MaxRetries),
		Group:     cfg.Queue.Group,
		Consumer:  consumer,
		BatchSize: cfg.Queue.BatchSize,
		Block:     cfg.Queue.Block,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> dispatcher started channels=%v group=%s consumer=%s batchSize=%d",
		channels, cfg.Queue.Group, consumer, cfg.Queue.BatchSize)

	var wg sync.WaitGroup
	for _, c := range channels {
		wg.Add(1)
		go func(c model.Channel) {
			defer wg.Done()
			d.Run(ctx, c)
		}(c)
	}
	wg.Wait()

	return nil
}
