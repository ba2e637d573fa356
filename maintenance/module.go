package maintenance

import (
	"context"

	"github.com/photocampus/feedengine/feed"
	Logger "github.com/photocampus/feedengine/utils/log"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

type ModuleConfig struct {
	Name string

	// cron specs, robfig/cron syntax
	RebuildSpec string
	CleanupSpec string
}

// Module schedules the maintenance sweeps. Rebuild runs hourly and
// cleanup daily unless the config says otherwise.
type Module struct {
	Config ModuleConfig

	maintainer *Maintainer
	opts       feed.Options
}

func NewModule(config ModuleConfig, maintainer *Maintainer, opts feed.Options) *Module {
	if config.RebuildSpec == "" {
		config.RebuildSpec = "@hourly"
	}
	if config.CleanupSpec == "" {
		config.CleanupSpec = "@daily"
	}
	return &Module{
		Config:     config,
		maintainer: maintainer,
		opts:       opts,
	}
}

func (m *Module) RunModule(ctx context.Context) error {
	c := cron.New()

	_, err := c.AddFunc(m.Config.RebuildSpec, func() {
		rebuilt, err := m.maintainer.RebuildInactiveFeeds(ctx, m.opts.InactivityThreshold)
		if err != nil {
			Logger.Log.Errorf("feed rebuild sweep failed: %v", err)
			return
		}
		Logger.Log.Infof("feed rebuild sweep refreshed %d users", rebuilt)
	})
	if err != nil {
		return errors.Wrapf(err, "bad rebuild cron spec %q", m.Config.RebuildSpec)
	}

	_, err = c.AddFunc(m.Config.CleanupSpec, func() {
		entries, markers, err := m.maintainer.CleanupOldFeeds(ctx, m.opts.Retention)
		if err != nil {
			Logger.Log.Errorf("feed cleanup sweep failed: %v", err)
			return
		}
		Logger.Log.Infof("feed cleanup sweep removed %d entries, %d celebrity markers", entries, markers)
	})
	if err != nil {
		return errors.Wrapf(err, "bad cleanup cron spec %q", m.Config.CleanupSpec)
	}

	c.Start()
	<-ctx.Done()

	// Stop's context closes once in-flight jobs return
	<-c.Stop().Done()
	return nil
}

func (m *Module) Name() string {
	return m.Config.Name
}

func (m *Module) Shutdown() {}
