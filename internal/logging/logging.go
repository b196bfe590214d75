package logging

import (
	"github.com/sirupsen/logrus"
)

// Init configures the standard logrus logger from config values.
// Invalid levels fall back to info rather than failing startup.
func Init(level string, jsonOutput bool) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if jsonOutput {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
