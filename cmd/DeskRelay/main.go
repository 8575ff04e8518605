package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	https_server "DeskRelay/api/http"
	"DeskRelay/internal/config"
	"DeskRelay/internal/initial"
	conversationService "DeskRelay/internal/modules/conversation/application/service"
	"DeskRelay/internal/modules/conversation/infrastructure/persistence"
	conversationHandler "DeskRelay/internal/modules/conversation/interface/http"
	"DeskRelay/internal/modules/conversation/interface/scheduler"
	queueService "DeskRelay/internal/modules/queue/application/service"
	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/internal/modules/queue/infrastructure/store"
	jobHandler "DeskRelay/internal/modules/queue/interface/http"
	jobTools "DeskRelay/internal/modules/queue/interface/mcp"
	realtimeService "DeskRelay/internal/modules/realtime/application/service"
	"DeskRelay/internal/modules/realtime/infrastructure/cache"
	"DeskRelay/internal/modules/realtime/interface/websocket"
	routingService "DeskRelay/internal/modules/routing/application/service"
	"DeskRelay/internal/modules/routing/infrastructure/llm"
	"DeskRelay/internal/modules/routing/infrastructure/mq"
	"DeskRelay/internal/modules/routing/infrastructure/mq/kafka"
	"DeskRelay/internal/modules/routing/infrastructure/notify"
	"DeskRelay/internal/modules/routing/infrastructure/parking"
	"DeskRelay/internal/modules/routing/interface/event"
	routingHandler "DeskRelay/internal/modules/routing/interface/http"
	tenantPersistence "DeskRelay/internal/modules/tenant/infrastructure/persistence"
	"DeskRelay/pkg/util/myjwt"
	"DeskRelay/pkg/ws"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置与日志
	conf := config.GetConfig()
	if err := zlog.Init(zlog.Options{
		Path:       conf.LogPath,
		Level:      conf.Level,
		MaxSizeMB:  conf.MaxSizeMB,
		MaxBackups: conf.MaxBackups,
		MaxAgeDays: conf.MaxAgeDays,
		Console:    conf.Console,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 存储
	db, err := initial.NewGormDB(conf.DatabaseConfig, conf.AppName)
	if err != nil {
		zlog.Fatal("open database failed", zap.Error(err))
	}
	rdb, err := initial.NewRedisClient(ctx, conf.RedisConfig)
	if err != nil {
		zlog.Fatal("connect redis failed", zap.Error(err))
	}
	defer rdb.Close()

	guard, err := tenantPersistence.NewGuard(db)
	if err != nil {
		zlog.Fatal("install tenant guard failed", zap.Error(err))
	}
	uow := persistence.NewUnitOfWork(guard)
	accounts := persistence.NewAccountRepository(db)
	hub := ws.NewHub()
	signer := myjwt.NewSigner(conf.JwtConfig.Key, conf.JwtConfig.Issuer, conf.JwtConfig.ExpireHours)

	// 3. 队列
	jobStore := store.NewRedisJobStore(rdb, conf.KeyPrefix)
	poll := conf.PollIntervalMillis
	classifyQueue := queueService.NewQueue(job.QueueClassification, job.KindClassification,
		queueService.OptionsFromConfig(conf.QueueConfig.Classification, poll), jobStore)
	draftQueue := queueService.NewQueue(job.QueueDraft, job.KindDraft,
		queueService.OptionsFromConfig(conf.QueueConfig.Draft, poll), jobStore)
	notifyQueue := queueService.NewQueue(job.QueueNotification, job.KindNotification,
		queueService.OptionsFromConfig(conf.QueueConfig.Notification, poll), jobStore)

	// 4. Kafka：入站消费与通知投递
	var (
		publisher mq.Publisher
		consumer  mq.Consumer
	)
	if conf.KafkaConfig.Enabled {
		if err := kafka.EnsureTopics(
			kafka.TopicAdminConfig{Brokers: conf.Brokers, ClientID: conf.KafkaConfig.ClientID},
			kafka.TopicSpec{Name: conf.InboundTopic, Partitions: conf.Partitions, ReplicationFactor: conf.Replication, Retention: 7 * 24 * time.Hour},
			kafka.TopicSpec{Name: conf.NotificationTopic, Partitions: conf.Partitions, ReplicationFactor: conf.Replication, Retention: 3 * 24 * time.Hour},
		); err != nil {
			zlog.Warn("ensure kafka topics failed", zap.Error(err))
		}
		publisher, err = kafka.NewSaramaPublisher(kafka.PublisherConfig{Brokers: conf.Brokers, ClientID: conf.KafkaConfig.ClientID})
		if err != nil {
			zlog.Fatal("create kafka publisher failed", zap.Error(err))
		}
		defer publisher.Close()
		consumer, err = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:      conf.Brokers,
			GroupID:      conf.ConsumerGroupID,
			Topics:       []string{conf.InboundTopic},
			ClientID:     conf.KafkaConfig.ClientID,
			Retry:        3,
			RetryBackoff: time.Second,
		})
		if err != nil {
			zlog.Fatal("create kafka consumer failed", zap.Error(err))
		}
	}
	sender, err := notify.NewSender(conf.NotifyConfig, publisher, conf.NotificationTopic)
	if err != nil {
		zlog.Fatal("create notification sender failed", zap.Error(err))
	}

	// 5. 路由
	presenceStore := cache.NewRedisPresenceStore(rdb)
	assignment := routingService.NewAssignmentService(uow, parking.NewRedisParkingLot(rdb), presenceStore)
	dispatcher := routingService.NewDispatcher(hub, draftQueue, notifyQueue)
	pipeline := routingService.NewPipeline(uow, hub, classifyQueue)
	reassigner := routingService.NewReassigner(uow, assignment, dispatcher)

	registry := queueService.NewRegistry()
	registry.Register(notifyQueue, routingService.NewNotificationProcessor(uow, sender))
	cm, meta, err := llm.NewChatModel(ctx, conf.ChatModel)
	switch {
	case errors.Is(err, llm.ErrProviderDisabled):
		zlog.Warn("chat model disabled, classification and draft jobs are enqueued only")
		registry.Register(classifyQueue, nil)
		registry.Register(draftQueue, nil)
	case err != nil:
		zlog.Fatal("create chat model failed", zap.Error(err))
	default:
		inference := llm.NewChatInference(cm, meta)
		registry.Register(classifyQueue, routingService.NewClassificationProcessor(uow, inference, assignment, dispatcher))
		registry.Register(draftQueue, routingService.NewDraftProcessor(uow, inference, hub, conf.HistoryMessageLimit))
	}

	// 6. 在线状态与会话
	tracker := realtimeService.NewPresenceTracker(uow, presenceStore, hub,
		time.Duration(conf.TTLSeconds)*time.Second, time.Duration(conf.TypingWindowSeconds)*time.Second)
	if conf.ResetOnBoot {
		if err := tracker.ResetOnBoot(ctx); err != nil {
			zlog.Warn("reset presence on boot failed", zap.Error(err))
		}
	}
	convSvc := conversationService.NewConversationService(uow, accounts, hub, assignment, reassigner)
	drafts := routingService.NewDraftReviewService(uow, convSvc)

	sched := scheduler.NewSchedulerManager(convSvc, registry, scheduler.Options{
		WakeSpec:  conf.WakeCron,
		CleanSpec: conf.CleanCron,
		Retention: time.Duration(conf.RetentionHours) * time.Hour,
	})
	if err := sched.Start(); err != nil {
		zlog.Fatal("start scheduler failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := registry.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error("worker pools stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		reassigner.Run(ctx, tracker.Transitions())
	}()
	if consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx, event.NewInboundEventHandler(pipeline)); err != nil && !errors.Is(err, context.Canceled) {
				zlog.Error("inbound consumer stopped", zap.Error(err))
			}
		}()
	}

	// 7. HTTP
	handlers := https_server.Handlers{
		Jobs:          jobHandler.NewJobHandler(registry),
		Routing:       routingHandler.NewRoutingHandler(pipeline, drafts),
		Conversations: conversationHandler.NewConversationHandler(convSvc),
		Ws:            websocket.NewWsHandler(hub, tracker, uow, signer, conf.AuthConfig),
	}
	if conf.MCPConfig.Enabled {
		handlers.MCP = jobTools.NewJobToolsServer(registry, conf.MCPConfig.Name, conf.MCPConfig.Version)
	}
	addr := fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port)
	srv := &http.Server{Addr: addr, Handler: https_server.NewEngine(conf, signer, handlers)}
	go func() {
		zlog.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server start failed", zap.Error(err))
		}
	}()

	// 8. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown failed", zap.Error(err))
	}
	sched.Stop()
	cancel()
	if consumer != nil {
		_ = consumer.Close()
	}
	wg.Wait()
	zlog.Info("server stopped")
}
