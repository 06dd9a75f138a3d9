package config

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(levelFromEnv(os.Getenv("LOG_LEVEL")))
	logg.SetOutput(os.Stdout)
}

func levelFromEnv(v string) logrus.Level {
	v = strings.TrimSpace(v)
	if v == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(v)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func LogError(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	if data != nil {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
			"data":     data,
		}).Error(err.Error())
	} else {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
		}).Error(err.Error())
	}
}
