package guard

import (
	"context"
	"fmt"

	"ddos-guard/internal/alert"
	"ddos-guard/internal/blocklist"
	"ddos-guard/internal/capture"
	"ddos-guard/internal/counter"
	"ddos-guard/internal/detector"
	"ddos-guard/internal/enforcement"
	"ddos-guard/internal/expiry"
	"ddos-guard/internal/metrics"
	"ddos-guard/internal/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Guard is the assembled detector shared by both binaries.
type Guard struct {
	Config     *utils.GuardConfig
	Logger     *logrus.Logger
	Registry   *prometheus.Registry
	Metrics    *metrics.GuardMetrics
	Engine     *detector.Engine
	Controller *capture.Controller
	Sweeper    *expiry.Sweeper
	PromClient *metrics.PrometheusClient

	closers []func()
}

// New builds the guard with the gateway and capture source named in config.
func New(config *utils.GuardConfig, logger *logrus.Logger) (*Guard, error) {
	gateway, err := enforcement.NewFromConfig(config.Enforcement, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcement gateway: %w", err)
	}
	return NewWithDeps(config, logger, gateway, capture.FactoryFromConfig(config.Capture))
}

// NewWithDeps builds the guard around an explicit gateway and source factory.
func NewWithDeps(config *utils.GuardConfig, logger *logrus.Logger, gateway enforcement.Gateway, open capture.SourceFactory) (*Guard, error) {
	allowlist, err := config.AllowlistNets()
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	guardMetrics := metrics.NewGuardMetrics(registry)

	engine := detector.NewEngine(
		config.Detection.IPThreshold,
		counter.New(config.Window()),
		blocklist.NewRegistry(),
		gateway,
		logger,
	)
	engine.SetAllowlist(allowlist)
	engine.SetMetrics(guardMetrics)

	controller := capture.NewController(open, engine, logger)
	controller.SetMetrics(guardMetrics)

	g := &Guard{
		Config:     config,
		Logger:     logger,
		Registry:   registry,
		Metrics:    guardMetrics,
		Engine:     engine,
		Controller: controller,
	}

	if config.Detection.AutoUnblock {
		g.Sweeper = expiry.NewSweeper(engine, config.BlockTime(), config.SweepInterval(), logger)
	}

	if config.Prometheus.URL != "" {
		promClient, err := metrics.NewPrometheusClient(config.Prometheus.URL)
		if err != nil {
			logger.Warnf("Failed to create Prometheus client: %v", err)
			logger.Warn("Traffic history queries will not be available")
		} else {
			logger.Infof("Prometheus client configured for %s", config.Prometheus.URL)
			g.PromClient = promClient
		}
	}

	g.registerAlertNotifiers()

	logger.Infof("Detector ready: threshold=%d window=%s backend=%s auto_unblock=%v",
		config.Detection.IPThreshold, config.Window(), gateway.Name(), config.Detection.AutoUnblock)
	return g, nil
}

func (g *Guard) registerAlertNotifiers() {
	config := g.Config
	if !config.Alerting.Enabled {
		return
	}

	if config.Alerting.Channels.Log {
		g.Engine.RegisterNotifier(alert.NewLogAlertNotifier(g.Logger))
	}

	if config.Alerting.Channels.Telegram && config.Alerting.Telegram.Enabled {
		telegramNotifier := alert.NewTelegramNotifierWithTemplate(
			config.Alerting.Telegram.BotToken,
			config.Alerting.Telegram.ChatID,
			config.Alerting.Telegram.ParseMode,
			config.Alerting.Telegram.Enabled,
			config.Alerting.Telegram.MessageTemplate,
			g.Logger,
		)
		g.Engine.RegisterNotifier(telegramNotifier)
	}

	if config.Alerting.Channels.NATS {
		natsNotifier, err := alert.NewNATSNotifier(config.Alerting.NATS.URL, config.Alerting.NATS.Subject, g.Logger)
		if err != nil {
			g.Logger.Warnf("NATS notifier disabled: %v", err)
			return
		}
		g.Engine.RegisterNotifier(natsNotifier)
		g.closers = append(g.closers, natsNotifier.Close)
	}
}

// RunBackground starts the auto-unblock sweeper, if enabled, for the
// lifetime of ctx.
func (g *Guard) RunBackground(ctx context.Context) {
	if g.Sweeper != nil {
		go g.Sweeper.Run(ctx)
	}
}

// Close stops capture and releases notifier connections.
func (g *Guard) Close() {
	g.Controller.Stop()
	for _, closeFn := range g.closers {
		closeFn()
	}
}
