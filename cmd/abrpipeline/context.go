package main

import (
	"log/slog"
	"strings"
	"sync"

	"abr-pipeline/internal/media"
	"abr-pipeline/internal/platform/config"
	"abr-pipeline/internal/platform/logger"
)

type commandContext struct {
	envFlag         *string
	collectionsFlag *string

	once        sync.Once
	settings    config.Settings
	collections config.Collections
	err         error
}

func newCommandContext(envFlag, collectionsFlag *string) *commandContext {
	return &commandContext{envFlag: envFlag, collectionsFlag: collectionsFlag}
}

// ensureSettings loads the env file once, then settings and collections.
func (c *commandContext) ensureSettings() (config.Settings, error) {
	c.once.Do(func() {
		if err := config.Load(strings.TrimSpace(*c.envFlag)); err != nil {
			c.err = err
			return
		}
		c.settings = config.FromEnv()
		if path := strings.TrimSpace(*c.collectionsFlag); path != "" {
			c.settings.CollectionsFile = path
		}
		c.collections, c.err = config.LoadCollections(c.settings.CollectionsFile)
	})
	return c.settings, c.err
}

func (c *commandContext) logger() *slog.Logger {
	return logger.New(c.settings.LogLevel, c.settings.LogFormat)
}

func (c *commandContext) keys() media.Keyspace {
	return media.Keyspace{MediaPrefix: c.settings.MediaPrefix, SegmentsPrefix: c.settings.SegmentsPrefix}
}
