package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/obradar/internal/models"
)

// New returns a text logger with full timestamps. Unknown levels fall back to info.
func New(level string) *logrus.Logger {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger
}

// PartitionFields tags log lines with the partition they belong to.
func PartitionFields(p models.Partition) logrus.Fields {
	return logrus.Fields{
		"symbol":    p.Symbol,
		"timeframe": string(p.Timeframe),
	}
}
