package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"maildesk/config"
	contracts "maildesk/contracts/mq"
	"maildesk/internal/classifier"
	"maildesk/internal/draft"
	"maildesk/internal/knowledge"
	"maildesk/internal/llm"
	"maildesk/internal/mail"
	"maildesk/internal/mqhandler"
	"maildesk/internal/orchestrator"
	"maildesk/internal/relay"
	"maildesk/internal/store"
	"maildesk/pkg/db"
	"maildesk/pkg/logger"
	"maildesk/pkg/mq"
	rdb "maildesk/pkg/redis"
	"maildesk/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting maildesk",
		zap.String("storage", cfg.Storage),
		zap.Bool("auto_reply", cfg.Pipeline.AutoReply),
		zap.Bool("auto_filter", cfg.Pipeline.AutoFilter),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- storage ----
	var st store.Store
	switch cfg.Storage {
	case "memory":
		st = store.NewMemory()
		log.Warn("Using in-memory storage, tickets are lost on restart")
	default:
		pool, err := db.NewConnection(cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to ensure schema", zap.Error(err))
		}
		st = pg
	}
	defer st.Close()

	// ---- redis ----
	redisClient := rdb.NewRedisClient(cfg.Redis)
	defer redisClient.Close()
	deduper := util.NewDeduperWithLogger(redisClient, 24*time.Hour, log)
	retries := util.NewRetryCounter(redisClient, 24*time.Hour)

	// ---- message queue ----
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to create MQ publisher", zap.Error(err))
	}
	defer publisher.Close()
	if err := publisher.SetupDLQ(contracts.RoutingKeyTicketReceived, contracts.RoutingKeySendFailed); err != nil {
		log.Fatal("Failed to set up DLQ", zap.Error(err))
	}

	// ---- knowledge base ----
	kb := knowledge.NewStore(cfg.Knowledge, log)
	if err := kb.Reload(); err != nil {
		log.Fatal("Failed to load knowledge base", zap.Error(err))
	}

	// ---- llm ----
	llmClient := llm.NewClient(cfg.LLM, log)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := llmClient.Ping(pingCtx); err != nil {
		// 启动不中断：模型端点可能晚于服务就绪
		log.Warn("LLM endpoint not reachable at startup", zap.Error(err))
	}
	cancel()

	cls := classifier.New(llmClient, cfg.LLM, log)
	drafter := draft.NewGenerator(kb, llmClient, cfg.LLM, cfg.Knowledge, log)

	// ---- operator relay and mailbox (dev transports by default) ----
	relayTransport := relay.NewConsoleTransport(log)
	defer relayTransport.Close()
	presenter := relay.NewPresenter(cfg.Relay.PreviewChars)
	mailTransport := mail.NewLogTransport(log)

	// ---- orchestrator ----
	orch := orchestrator.New(
		st, kb, cls, drafter,
		mailTransport, relayTransport, presenter,
		publisher, deduper, retries,
		cfg.Pipeline, cfg.Mail.AckEnabled, log,
	)

	// ---- MQ consumers ----
	receivedConsumer, err := mq.NewConsumer(cfg.MQ.URL, "ticket_pipeline", contracts.RoutingKeyTicketReceived, log)
	if err != nil {
		log.Fatal("Failed to create pipeline consumer", zap.Error(err))
	}
	defer receivedConsumer.Close()
	receivedConsumer.SetHandler(
		mqhandler.NewTicketReceivedHandler(orch, st, publisher, deduper, retries, log).Handle)

	sendFailedConsumer, err := mq.NewConsumer(cfg.MQ.URL, "ticket_send_failed", contracts.RoutingKeySendFailed, log)
	if err != nil {
		log.Fatal("Failed to create send-failed consumer", zap.Error(err))
	}
	defer sendFailedConsumer.Close()
	sendFailedConsumer.SetHandler(
		mqhandler.NewSendFailedHandler(orch, publisher, deduper, log).Handle)

	go func() {
		if err := receivedConsumer.StartConsuming(ctx); err != nil && ctx.Err() == nil {
			log.Error("Pipeline consumer stopped", zap.Error(err))
			stop()
		}
	}()
	go func() {
		if err := sendFailedConsumer.StartConsuming(ctx); err != nil && ctx.Err() == nil {
			log.Error("Send-failed consumer stopped", zap.Error(err))
			stop()
		}
	}()

	// ---- mail poller and operator listener ----
	poller := mail.NewPoller(mailTransport, deduper, orch.Intake, cfg.Mail.PollInterval(), log)
	go poller.Run(ctx)
	go orch.Listen(ctx)

	// ---- metrics ----
	metricsServer := &http.Server{
		Addr:    ":" + cfg.Server.MetricsPort,
		Handler: promhttp.Handler(),
	}
	go func() {
		log.Info("Metrics server listening", zap.String("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server shutdown failed", zap.Error(err))
	}
	log.Info("Shutdown complete")
}
