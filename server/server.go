package server

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/config"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/handlers"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/kafka"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/limiter"
	custommiddleware "github.com/rodrigoptu12/supportwhatsapp-sub000/middleware"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/models"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/presence"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/realtime"
	appredis "github.com/rodrigoptu12/supportwhatsapp-sub000/redis"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/services"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/whatsapp"
)

type Server struct {
	Echo                *echo.Echo
	DB                  *gorm.DB
	Config              *config.Config
	Gateway             *realtime.Gateway
	WebhookHandler      *handlers.WebhookHandler
	ConversationHandler *handlers.ConversationHandler
	SocketHandler       *handlers.SocketHandler
	Limiter             *limiter.Manager
	Producer            *kafka.Producer
}

func NewServer() *Server {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		log.Fatal("Failed to auto-migrate database:", err)
	}

	redisClient, err := appredis.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}

	// 初始化 Echo
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"http://localhost:5173"},
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.PATCH},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength},
		MaxAge:           86400,
	}))

	// 服务层
	authService := services.NewAuthService(db, &cfg.Auth)
	directoryService := services.NewDirectoryService(db)
	templateService := services.NewTemplateService(db)
	conversationService := services.NewConversationService(db)
	botService := services.NewBotService(templateService, directoryService)

	registry := presence.NewRegistry(redisClient.Client)
	gateway := realtime.NewGateway(registry, directoryService.UserDepartmentIDs)

	sender := whatsapp.NewClient(&cfg.WhatsApp)

	// kafka 是可选依赖，没开就不发事件
	var producer *kafka.Producer
	var events services.EventPublisher
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(&cfg.Kafka)
		if err != nil {
			log.Fatal("Failed to create kafka producer:", err)
		}
		events = producer
	}

	handoffService := services.NewHandoffService(db, gateway, sender, templateService, directoryService, events)

	webhookHandler := handlers.NewWebhookHandler(cfg.WhatsApp.VerifyToken,
		conversationService, botService, gateway, sender, events)
	conversationHandler := handlers.NewConversationHandler(conversationService, handoffService, gateway, sender)
	socketHandler := handlers.NewSocketHandler(gateway)

	rateLimiter := limiter.NewManager(redisClient.Client, &limiter.FixedWindowStrategy{})

	s := &Server{
		Echo:                e,
		DB:                  db,
		Config:              &cfg,
		Gateway:             gateway,
		WebhookHandler:      webhookHandler,
		ConversationHandler: conversationHandler,
		SocketHandler:       socketHandler,
		Limiter:             rateLimiter,
		Producer:            producer,
	}
	// --- 设置路由 ---
	authMiddleware := custommiddleware.AuthMiddleware(authService)
	s.SetupRoutes(authMiddleware, rateLimiter.Middleware(120, time.Minute))
	return s
}

func (s *Server) Start(addr string) {
	log.Fatal(s.Echo.Start(addr))
}
