package main

import (
	"os"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/queue-api/config"
	"github.com/jwalitptl/queue-api/internal/repository/postgres"
	queuesvc "github.com/jwalitptl/queue-api/internal/service/queue"
	"github.com/jwalitptl/queue-api/pkg/logger"
)

type commandContext struct {
	configFlag *string
	dbFlag     *string

	once    sync.Once
	db      *sqlx.DB
	service queuesvc.QueueService
	err     error
}

func newCommandContext(configFlag, dbFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		dbFlag:     dbFlag,
	}
}

func (c *commandContext) databaseConfig() (config.DatabaseConfig, *logger.Logger, error) {
	log := logger.NewLogger(&logger.Config{Level: logger.WarnLevel, Output: os.Stderr})

	if path := strings.TrimSpace(*c.dbFlag); path != "" {
		return config.DatabaseConfig{Driver: config.DriverSQLite, Path: path}, log, nil
	}

	cfg, err := config.LoadConfig(strings.TrimSpace(*c.configFlag))
	if err != nil {
		return config.DatabaseConfig{}, nil, err
	}
	return cfg.Database, logger.NewLogger(cfg.Log.ToLoggerConfig()), nil
}

// queue opens the database on first use. The CLI runs the same engine as
// the API, without a snapshot cache.
func (c *commandContext) queue() (queuesvc.QueueService, error) {
	c.once.Do(func() {
		dbCfg, log, err := c.databaseConfig()
		if err != nil {
			c.err = err
			return
		}
		db, err := postgres.Open(dbCfg)
		if err != nil {
			c.err = err
			return
		}
		c.db = db
		c.service = queuesvc.NewService(postgres.NewPatientRepository(db), nil, log, nil)
	})
	return c.service, c.err
}

func (c *commandContext) close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
