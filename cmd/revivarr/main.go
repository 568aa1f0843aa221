package revivarr

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/revivarr/revivarr/internal/config"
	"github.com/revivarr/revivarr/internal/logger"
	"github.com/revivarr/revivarr/internal/utils"
	"github.com/revivarr/revivarr/pkg/monitor"
	"github.com/revivarr/revivarr/pkg/realdebrid"
	"github.com/revivarr/revivarr/pkg/riven"
	"github.com/revivarr/revivarr/pkg/server"
	"github.com/revivarr/revivarr/pkg/state"
	"github.com/revivarr/revivarr/pkg/version"
)

func Start(ctx context.Context) error {
	cfg := config.Get()
	_log := logger.Default()

	// ascii banner
	fmt.Printf(`
+-------------------------------------------------------+
|                                                       |
|  ╦═╗╔═╗╦  ╦╦╦  ╦╔═╗╦═╗╦═╗                             |
|  ╠╦╝║╣ ╚╗╔╝║╚╗╔╝╠═╣╠╦╝╠╦╝ (%s)          |
|  ╩╚═╚═╝ ╚╝ ╩ ╚╝ ╩ ╩╩╚═╩╚═                             |
|                                                       |
+-------------------------------------------------------+
|  Log Level: %s                                        |
+-------------------------------------------------------+
`, version.GetInfo(), cfg.LogLevel)

	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	store, err := state.New(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("opening state file: %w", err)
	}
	if store.Load() {
		_log.Info().Str("file", store.Path()).Msg("Recovered persisted state")
	}

	_log.Info().
		Str("riven", cfg.RivenURL).
		Str("riven_key", utils.Mask(cfg.RivenAPIKey)).
		Str("rd_key", utils.Mask(cfg.RDAPIKey)).
		Int("slots", cfg.MaxActiveDownloads).
		Strs("problem_states", cfg.ProblemStates).
		Msg("Starting Revivarr")

	eng := monitor.New(cfg, store, riven.New(cfg), realdebrid.New(cfg))
	srv := server.New(eng)

	return startServices(ctx, eng, srv)
}

func startServices(ctx context.Context, eng *monitor.Monitor, srv *server.Server) error {
	svcCtx, cancelSvc := context.WithCancel(ctx)
	defer cancelSvc()

	var wg sync.WaitGroup
	errChan := make(chan error)

	_log := logger.Default()

	safeGo := func(name string, f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					_log.Error().
						Interface("panic", r).
						Str("service", name).
						Str("stack", string(debug.Stack())).
						Msg("Recovered from panic in service goroutine")
					errChan <- fmt.Errorf("%s panicked: %v", name, r)
				}
			}()
			if err := f(); err != nil {
				errChan <- err
			}
		}()
	}

	safeGo("engine", func() error {
		return eng.Start(svcCtx)
	})

	safeGo("status server", func() error {
		return srv.Start(svcCtx)
	})

	go func() {
		wg.Wait()
		close(errChan)
	}()

	var firstErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for err := range errChan {
			if err == nil {
				continue
			}
			_log.Error().Err(err).Msg("Service error detected")
			if firstErr == nil {
				firstErr = err
			}
			// One service going down takes the rest with it.
			cancelSvc()
		}
	}()

	<-svcCtx.Done()
	<-done
	_log.Debug().Msg("Services stopped")
	return firstErr
}
