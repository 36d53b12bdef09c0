package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/fitforge/membership/modules/billingapi"
	"github.com/fitforge/membership/pkg/billing"
	"github.com/fitforge/membership/pkg/config"
	"github.com/fitforge/membership/pkg/httpserver"
	"github.com/fitforge/membership/pkg/logger"
	"github.com/fitforge/membership/pkg/membership"
	"github.com/fitforge/membership/pkg/mongo"
	"github.com/fitforge/membership/pkg/queue"
)

type appConfig struct {
	Environment string `env:"APP_ENV" envDefault:"production"`
	WorkerSlots int    `env:"QUEUE_CONCURRENCY" envDefault:"4"`
}

func main() {
	var (
		appCfg         appConfig
		mongoCfg       mongo.Config
		paddleCfg      billing.PaddleConfig
		serverCfg      httpserver.Config
		maintenanceCfg membership.MaintenanceConfig
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&mongoCfg)
	config.MustLoad(&paddleCfg)
	config.MustLoad(&serverCfg)
	config.MustLoad(&maintenanceCfg)

	logOpt := logger.WithProduction("membershipd")
	if appCfg.Environment != "production" {
		logOpt = logger.WithDevelopment("membershipd")
	}
	log := logger.New(logOpt)
	logger.SetAsDefault(log)

	if err := run(context.Background(), appCfg, mongoCfg, paddleCfg, serverCfg, maintenanceCfg, log); err != nil {
		log.Error("membershipd exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	appCfg appConfig,
	mongoCfg mongo.Config,
	paddleCfg billing.PaddleConfig,
	serverCfg httpserver.Config,
	maintenanceCfg membership.MaintenanceConfig,
	log *slog.Logger,
) error {
	db, err := mongo.NewWithDatabase(ctx, mongoCfg)
	if err != nil {
		return err
	}
	defer db.Client().Disconnect(context.Background()) //nolint:errcheck

	store := membership.NewMongoStore(db)
	ledger := membership.NewMongoLedger(db)
	taskRepo := queue.NewMongoRepository(db)

	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.EnsureIndexes(indexCtx); err != nil {
		return err
	}
	if err := taskRepo.EnsureIndexes(indexCtx); err != nil {
		return err
	}

	provider, err := billing.NewPaddleProvider(paddleCfg)
	if err != nil {
		return err
	}

	enqueuer, err := queue.NewEnqueuer(taskRepo)
	if err != nil {
		return err
	}
	notifier := membership.NewQueueNotifier(enqueuer)

	reconciler := membership.NewReconciler(store, ledger,
		membership.WithReconcilerLogger(log),
		membership.WithReconcilerNotifier(notifier))
	workflow := membership.NewWorkflow(store, provider, reconciler, enqueuer,
		membership.WithWorkflowLogger(log),
		membership.WithWorkflowNotifier(notifier))
	maintenance := membership.NewMaintenance(store, provider,
		membership.WithMaintenanceLogger(log))

	worker, err := queue.NewWorker(taskRepo,
		queue.WithConcurrency(appCfg.WorkerSlots),
		queue.WithWorkerLogger(log))
	if err != nil {
		return err
	}
	worker.RegisterHandlers(membership.NewCancelSubscriptionHandler(provider, log))
	membership.RegisterMaintenanceHandlers(worker, maintenance, log)

	scheduler, err := queue.NewScheduler(taskRepo, queue.WithSchedulerLogger(log))
	if err != nil {
		return err
	}
	if err := membership.ScheduleMaintenance(scheduler, maintenanceCfg); err != nil {
		return err
	}

	srv := httpserver.New(serverCfg, httpserver.WithServerLogger(log))

	// Owner identity arrives from the authenticating gateway in front of
	// this service.
	resolveOwner := func(r *http.Request) (string, error) {
		return r.Header.Get("X-Owner-Ref"), nil
	}
	handlers := billingapi.NewHandlers(provider, reconciler, workflow, maintenance, resolveOwner, log)

	r := chi.NewRouter()
	r.Get("/healthz", srv.HealthCheckHandler())
	r.Get("/readyz", srv.HealthCheckHandler(mongo.Healthcheck(db.Client())))
	r.Mount("/billing", billingapi.Router(handlers))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(ctx))
	g.Go(scheduler.Run(ctx))
	g.Go(func() error { return srv.Run(ctx, r) })
	return g.Wait()
}
