package main

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/config"
	"github.com/vultisig/txengine/internal/tasks"
	"github.com/vultisig/txengine/service"
)

func main() {
	cfg, err := config.ReadConfig("config")
	if err != nil {
		panic(err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	logrus.SetLevel(level)
	logger := logrus.WithField("service", "worker").Logger

	sdClient, err := service.NewStatsdClient(cfg)
	if err != nil {
		panic(err)
	}
	engine, err := service.NewEngineFromConfig(context.Background(), cfg, sdClient, logger)
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	workerService, err := service.NewWorker(engine.TransactionService, sdClient)
	if err != nil {
		panic(err)
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr(),
			Username: cfg.Redis.User,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Logger:      logger,
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				cfg.Worker.Queue: 10,
			},
		},
	)

	logger.WithFields(logrus.Fields{
		"redis": cfg.RedisAddr(),
		"queue": cfg.Worker.Queue,
	}).Info("Starting worker")

	// mux maps a type to a handler
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeExecuteTransaction, workerService.HandleExecuteTransaction)
	mux.HandleFunc(tasks.TypeDeployContract, workerService.HandleDeployContract)
	if err := srv.Run(mux); err != nil {
		logger.Fatalf("could not run server: %v", err)
	}
}
