package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/swagger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/multisig"
	"github.com/toncenter/ton-dispatch-go/router"
	"github.com/toncenter/ton-dispatch-go/sender"
)

// Dispatcher is the request router as seen by the wallet UI.
type Dispatcher interface {
	Pending() []models.PendingRequest
	Request(id string) (models.PendingRequest, error)
	Choices(ctx context.Context, requestID string) ([]sender.Choice, error)
	Estimate(ctx context.Context, requestID string, choice sender.Choice) (*sender.Estimation, error)
	Confirm(ctx context.Context, requestID string, choice sender.Choice) (*router.Confirmation, error)
	Decline(ctx context.Context, requestID string) error
	HandleConnectLink(ctx context.Context, walletID string, link string) (models.PendingRequest, error)
	Sessions(ctx context.Context, walletID string) ([]models.Session, error)
	DisconnectSession(ctx context.Context, clientSessionID string) error
	RemoveWallet(ctx context.Context, walletID string) error
}

type Selector interface {
	Choices(ctx context.Context, op sender.Operation) ([]sender.Choice, error)
	Resolve(ctx context.Context, op sender.Operation, choice sender.Choice) (sender.Sender, error)
}

type Orders interface {
	ProposeOrder(ctx context.Context, wallet models.Wallet, actions []models.OutMessage, ttl time.Duration) (*models.Order, error)
	Order(ctx context.Context, addr models.AccountAddress) (*models.Order, error)
	SignOrder(ctx context.Context, wallet models.Wallet, orderAddr models.AccountAddress) (bool, error)
	EstimateExistingOrder(ctx context.Context, orderAddr models.AccountAddress) (*multisig.OrderEstimation, error)
	WaitDeployed(ctx context.Context, multisig models.AccountAddress, seqno uint64) (*models.Order, error)
	WaitExecuted(ctx context.Context, orderAddr models.AccountAddress) (*models.Order, error)
}

type JettonWallets interface {
	JettonWallet(ctx context.Context, owner, master models.AccountAddress) (models.AccountAddress, string, error)
}

type WalletDirectory interface {
	Wallet(id string) (models.Wallet, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type BridgeStatus interface {
	Connected() bool
	Tracked() int
}

type Config struct {
	AppName   string
	AccessLog bool
	// EstimationTTL bounds how long a local transfer estimation waits for its send.
	EstimationTTL time.Duration
}

type Deps struct {
	Router   Dispatcher
	Selector Selector
	Orders   Orders
	Jettons  JettonWallets
	Wallets  WalletDirectory
	Redis    Pinger
	Bridge   BridgeStatus
	Hub      *Hub
	Logger   *logrus.Logger
	Now      func() time.Time
}

type Server struct {
	cfg       Config
	router    Dispatcher
	selector  Selector
	orders    Orders
	jettons   JettonWallets
	wallets   WalletDirectory
	redis     Pinger
	bridge    BridgeStatus
	hub       *Hub
	estimates *estimateStore
	logger    *logrus.Logger
	now       func() time.Time
	app       *fiber.App
}

func New(cfg Config, deps Deps) *Server {
	if cfg.AppName == "" {
		cfg.AppName = "TON Dispatch API"
	}
	if cfg.EstimationTTL <= 0 {
		cfg.EstimationTTL = 5 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.Logger)
	}
	s := &Server{
		cfg:       cfg,
		router:    deps.Router,
		selector:  deps.Selector,
		orders:    deps.Orders,
		jettons:   deps.Jettons,
		wallets:   deps.Wallets,
		redis:     deps.Redis,
		bridge:    deps.Bridge,
		hub:       deps.Hub,
		estimates: newEstimateStore(cfg.EstimationTTL, deps.Now),
		logger:    deps.Logger,
		now:       deps.Now,
	}
	s.app = s.routes()
	return s
}

func (s *Server) routes() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      s.cfg.AppName,
		ErrorHandler: ErrorHandler(s.logger),
	})

	// converters
	fiber.SetParserDecoder(fiber.ParserConfig{
		IgnoreUnknownKeys: true,
		ParserType: []fiber.ParserType{
			{Customtype: models.AccountAddress(""), Converter: models.AccountAddressConverter},
		},
		ZeroEmpty: true,
	})

	if s.cfg.AccessLog {
		app.Use(logger.New(logger.Config{Format: "[${ip}]:${port} ${status} - ${method} ${path}\n"}))
	}

	app.Get("/healthz", s.healthz)

	var swaggerConfig = swagger.Config{
		Title:           s.cfg.AppName + " - Swagger UI",
		Layout:          "BaseLayout",
		DeepLinking:     true,
		TryItOutEnabled: true,
	}
	app.Get("/swagger/*", swagger.New(swaggerConfig))

	v1 := app.Group("/api/v1")

	// requests
	v1.Get("/requests", s.listRequests)
	v1.Get("/requests/:id", s.getRequest)
	v1.Get("/requests/:id/choices", s.requestChoices)
	v1.Post("/requests/:id/estimate", s.estimateRequest)
	v1.Post("/requests/:id/confirm", s.confirmRequest)
	v1.Post("/requests/:id/decline", s.declineRequest)
	v1.Post("/connect", s.connect)

	// feed
	v1.Get("/events", s.eventsSSE)
	v1.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(s.eventsWS))

	// wallets
	v1.Get("/wallets/:id/sessions", s.walletSessions)
	v1.Delete("/wallets/:id/sessions", s.removeWallet)
	v1.Delete("/sessions/:session", s.disconnectSession)
	v1.Post("/wallets/:id/transfers/choices", s.transferChoices)
	v1.Post("/wallets/:id/transfers/estimate", s.estimateTransfer)
	v1.Post("/wallets/:id/transfers/send", s.sendTransfer)

	// multisig
	v1.Post("/wallets/:id/orders", s.proposeOrder)
	v1.Get("/orders", s.getOrder)
	v1.Post("/orders/sign", s.signOrder)
	v1.Get("/orders/estimate", s.estimateOrder)
	v1.Get("/orders/wait/deployed", s.waitDeployed)
	v1.Get("/orders/wait/executed", s.waitExecuted)

	return app
}

// App exposes the fiber application, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) wallet(c *fiber.Ctx) (models.Wallet, error) {
	return s.wallets.Wallet(c.Params("id"))
}

func badRequest(msg string) error {
	return APIError{Code: fiber.StatusBadRequest, Message: msg}
}
