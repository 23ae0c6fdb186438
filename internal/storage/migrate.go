package storage

import (
	"database/sql"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

func runGoose(db *sql.DB, dialect string, logger *logrus.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(logger)

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	logger.Infof("Running %s migrations...", dialect)
	if err := goose.Up(db, "migrations/"+dialect); err != nil {
		return err
	}
	logger.Info("Migrations completed successfully")
	return nil
}
