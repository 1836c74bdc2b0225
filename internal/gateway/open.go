package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"omnigate/internal/authstore"
	"omnigate/internal/channel"
	"omnigate/internal/channel/discord"
	"omnigate/internal/channel/telegram"
	"omnigate/internal/channel/whatsapp"
	"omnigate/internal/config"
	"omnigate/internal/domain"
	"omnigate/internal/lifecycle"
)

// Open builds a Gateway from cfg: it opens the auth store, the WhatsApp
// device store when a WhatsApp instance is configured, and one plugin per
// configured platform.
func Open(ctx context.Context, cfg *config.Config, bus domain.EventBus, logger *slog.Logger) (*Gateway, error) {
	store, err := authstore.Open(ctx, cfg.Storage.Driver, cfg.AuthDBPath(), cfg.Storage.DSN, logger)
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{store}

	fail := func(err error) (*Gateway, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}

	platforms := make(map[domain.Platform]bool)
	for _, e := range cfg.Instances {
		platforms[domain.Platform(e.Platform)] = true
	}

	base := func(p domain.Platform) channel.Config {
		return channel.Config{
			Bus:       bus,
			Store:     store,
			Policy:    cfg.Policy(),
			Scheduler: lifecycle.RealScheduler{},
			Throttle:  cfg.Throttle(p),
			TypingFor: cfg.TypingAutoStop(),
			Logger:    logger,
		}
	}

	var plugins []domain.Plugin
	if platforms[domain.PlatformWhatsApp] {
		devices, err := whatsapp.OpenDeviceStore(ctx, cfg.DeviceDBPath(), logger)
		if err != nil {
			return fail(fmt.Errorf("whatsapp device store: %w", err))
		}
		closers = append(closers, devices)
		plugins = append(plugins, whatsapp.New(whatsapp.Config{
			Config:     base(domain.PlatformWhatsApp),
			Devices:    devices,
			HistoryCap: cfg.General.HistoryCap,
		}))
	}
	if platforms[domain.PlatformDiscord] {
		plugins = append(plugins, discord.New(base(domain.PlatformDiscord)))
	}
	if platforms[domain.PlatformTelegram] {
		plugins = append(plugins, telegram.New(telegram.Config{
			Config:     base(domain.PlatformTelegram),
			HistoryCap: cfg.General.HistoryCap,
		}))
	}

	return New(Options{
		Instances: cfg.Instances,
		Plugins:   plugins,
		Bus:       bus,
		Logger:    logger,
		Closers:   closers,
	}), nil
}
