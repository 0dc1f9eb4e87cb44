package main

import (
	"flag"
	"log"
	"os"

	"github.com/hibiken/asynq"

	"github.com/vultisig/txengine/internal/tasks"
)

func main() {
	redisAddr := flag.String("redis", "127.0.0.1:6379", "redis address")
	queue := flag.String("queue", tasks.DefaultQueue, "task queue")
	payloadFile := flag.String("payload", "", "json file with the execute transaction request")
	flag.Parse()

	if *payloadFile == "" {
		log.Fatal("-payload is required")
	}
	raw, err := os.ReadFile(*payloadFile)
	if err != nil {
		log.Fatalf("could not read payload: %v", err)
	}
	var payload tasks.ExecuteTransactionPayload
	if err := tasks.Decode(raw, &payload); err != nil {
		log.Fatalf("could not parse payload: %v", err)
	}
	if err := payload.IsValid(); err != nil {
		log.Fatalf("invalid payload: %v", err)
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: *redisAddr})
	defer client.Close()

	task, err := tasks.NewExecuteTransaction(payload)
	if err != nil {
		log.Fatalf("could not create task: %v", err)
	}
	info, err := client.Enqueue(task, tasks.EnqueueOptions(*queue)...)
	if err != nil {
		log.Fatalf("could not enqueue task: %v", err)
	}
	log.Printf("enqueued task: id=%s queue=%s", info.ID, info.Queue)
}
