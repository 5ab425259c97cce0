package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/flame-sh/flame/internal/executormanager"
	"github.com/flame-sh/flame/internal/executormanager/dockershim"
	"github.com/flame-sh/flame/internal/flame/backendrpc/client"
	"github.com/flame-sh/flame/internal/flame/config"
	"github.com/flame-sh/flame/internal/flame/logger"
	"github.com/flame-sh/flame/internal/flame/model"
	"github.com/flame-sh/flame/internal/flame/shim"
)

func main() {
	// 1. Load configuration. The Executor Manager reads the same
	// application manifest as the Session Manager so its shim factory
	// can resolve a shim without a round trip.
	cfg, err := config.Load(os.Getenv("FLAME_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting Executor Manager")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Backend RPC client to the Session Manager
	if cfg.Endpoint == "" {
		log.Fatal("missing session manager endpoint (set \"endpoint\" in config)")
	}
	rpcClient := client.NewClient(cfg.Endpoint, nil)

	// 4. Optional Docker client, only needed if some application names
	// the builtin "docker" shim.
	var dockerClient *dockershim.Client
	for _, app := range cfg.Applications {
		if app.Shim == "docker" {
			dockerClient, err = dockershim.NewClient(cfg.Docker, log)
			if err != nil {
				log.Fatal("failed to initialize docker client", zap.Error(err))
			}
			defer dockerClient.Close()
			break
		}
	}

	apps := make(map[string]*model.Application, len(cfg.Applications))
	for _, app := range cfg.Applications {
		apps[app.Name] = app.ToModel()
	}

	// 5. Shim factory: "docker" applications run in a container (an error
	// when no docker client is configured); "log" or empty shims, and
	// names with no configured application, use the in-process log shim;
	// any other shim name is an error.
	shims := func(applicationName string) (shim.Shim, error) {
		app, ok := apps[applicationName]
		if !ok {
			return shim.NewLogShim(log), nil
		}
		switch app.Shim {
		case "docker":
			if dockerClient == nil {
				return nil, fmt.Errorf("application %q names the docker shim but no docker client is configured", applicationName)
			}
			return dockershim.New(dockerClient, app), nil
		case "log", "":
			return shim.NewLogShim(log), nil
		default:
			return nil, fmt.Errorf("application %q names unsupported shim %q", applicationName, app.Shim)
		}
	}

	// 6. Build this node's executor pool: one template per configured
	// application, sized to its max_instances.
	templates := make([]executormanager.ExecutorTemplate, 0, len(cfg.Applications))
	for _, app := range cfg.Applications {
		count := app.MaxInstances
		if count <= 0 {
			continue
		}
		templates = append(templates, executormanager.ExecutorTemplate{
			Applications: []string{app.Name},
			Slots:        1,
			Count:        count,
		})
	}

	nodeName := cfg.Node.Name
	if nodeName == "" {
		nodeName = executormanager.DefaultNodeName()
	}
	allocatable := cfg.Node.Allocatable
	if allocatable == nil {
		allocatable = map[string]int64{}
		var total int64
		for _, tmpl := range templates {
			total += int64(tmpl.Count) * int64(tmpl.Slots)
		}
		for unit := range cfg.SlotUnit {
			allocatable[unit] = total
		}
	}

	mgr := executormanager.New(rpcClient, shims, nodeName, allocatable, templates, log)

	// 7. Wait for shutdown signal while the manager runs
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	select {
	case <-quit:
		log.Info("shutting down Executor Manager")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Error("executor manager stopped with an error", zap.Error(err))
		}
	}

	log.Info("Executor Manager stopped")
}
