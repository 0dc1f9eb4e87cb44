package main

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/api"
	"github.com/vultisig/txengine/config"
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
	logger := logrus.WithField("service", "txengine").Logger

	sdClient, err := service.NewStatsdClient(cfg)
	if err != nil {
		panic(err)
	}
	engine, err := service.NewEngineFromConfig(context.Background(), cfg, sdClient, logger)
	if err != nil {
		panic(err)
	}
	defer engine.Close()
	if err := engine.StartGasWarmer(); err != nil {
		panic(err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr(),
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := asynq.NewClient(redisOpt)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Errorf("fail to close asynq client, err: %v", err)
		}
	}()
	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Errorf("fail to close asynq inspector, err: %v", err)
		}
	}()

	server := api.NewServer(cfg.Server.Port, engine.TransactionService, client, inspector, cfg.Worker.Queue, sdClient)
	if err := server.StartServer(); err != nil {
		logger.Fatalf("fail to start server, err: %v", err)
	}
}
