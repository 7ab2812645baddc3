package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/authservice"
	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/cache"
	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/collab"
	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/httpapi/handlers"
	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/httpapi/middleware"
	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/store"
	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/ws"
)

type CollabConfig struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Collab struct {
		FlushDelayMs   int `mapstructure:"flushDelayMs"`
		PresenceTTLSec int `mapstructure:"presenceTTLSec"`
		CursorTTLSec   int `mapstructure:"cursorTTLSec"`
		TypingTTLSec   int `mapstructure:"typingTTLSec"`
	} `mapstructure:"collab"`
}

func initConfig() (*CollabConfig, error) {
	cfg := &CollabConfig{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis failed: %v", err)
	}
	defer rdb.Close()

	db, err := gorm.Open(mysql.Open(cfg.Mysql.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("open mysql failed: %v", err)
	}
	if err := db.AutoMigrate(&store.User{}, &store.Document{}, &store.ChatMessage{}, &store.DocumentOperation{}); err != nil {
		log.Fatalf("auto migrate failed: %v", err)
	}

	// === Kafka Producer（未配置 broker 时关闭事件外发） ===
	var producer sarama.SyncProducer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err = sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("connect kafka failed: %v", err)
		}
		defer producer.Close()
	}

	presence := cache.NewRedisPresence(rdb, cache.PresenceOptions{
		PresenceTTL: time.Duration(cfg.Collab.PresenceTTLSec) * time.Second,
		CursorTTL:   time.Duration(cfg.Collab.CursorTTLSec) * time.Second,
		TypingTTL:   time.Duration(cfg.Collab.TypingTTLSec) * time.Second,
	})
	docCache := cache.NewDocumentCache(rdb)

	docStore := store.NewDocumentStore(db, docCache)
	userStore := store.NewUserStore(db)
	chatStore := store.NewChatStore(db)

	var sink collab.EventSink
	if producer != nil {
		kafkaSem := collab.NewSemaphoreControl()
		sink = collab.NewKafkaDispatcher(producer, cfg.Kafka.Topic, kafkaSem, collab.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		})
	}

	batcher := collab.NewBatcher(docStore, docStore, sink, collab.BatcherOptions{
		FlushDelay: time.Duration(cfg.Collab.FlushDelayMs) * time.Millisecond,
	})

	hub := ws.NewHub()
	manager := ws.NewManager(hub, presence, docStore, userStore, chatStore, batcher)

	authHandler := authservice.NewHandler(userStore)
	docHandler := handlers.NewHandler(docStore, chatStore, manager)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	v1 := r.Group("/v1")
	auth := v1.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/register", authHandler.Register)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/verify", authHandler.Verify)

	docs := v1.Group("/documents")
	docs.Use(middleware.AuthMiddleware())
	docs.GET("", docHandler.ListDocuments)
	docs.POST("", docHandler.CreateDocument)
	docs.GET("/:documentID", docHandler.GetDocument)
	docs.PUT("/:documentID/content", docHandler.UpdateContent)
	docs.PUT("/:documentID/title", docHandler.UpdateTitle)
	docs.GET("/:documentID/messages", docHandler.ListMessages)
	docs.DELETE("/:documentID/messages/:messageID", docHandler.DeleteMessage)

	collabGroup := r.Group("/collab")
	collabGroup.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	collabGroup.Use(middleware.AuthMiddleware())
	collabGroup.GET("/ws", manager.WebSocketConnect)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen failed: %v", err)
		}
	}()
	log.Printf("collab server listening on :%d", cfg.Running.Port)

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	// 退出前把所有文档的待写队列刷进库，干净停机不丢编辑
	if err := batcher.Shutdown(shutdownCtx); err != nil {
		log.Printf("batcher shutdown error: %v", err)
	}
}
