package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	rotatelogs "github.com/mrnim94/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// InitLogger configures the shared logger. When logToFile is true, output is
// additionally rotated into log/<APP_NAME>/ with a 7 day retention.
func InitLogger(logToFile bool) *logrus.Logger {
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetOutput(os.Stdout)

	if logToFile {
		appName := os.Getenv("APP_NAME")
		if appName == "" {
			appName = "app"
		}
		logPath := filepath.Join("log", appName)
		writer, err := rotatelogs.New(
			logPath+".%Y%m%d.log",
			rotatelogs.WithLinkName(logPath+".log"),
			rotatelogs.WithMaxAge(7*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			logger.Errorf("Failed to create rotate logs writer: %v", err)
		} else {
			logger.AddHook(lfshook.NewHook(
				lfshook.WriterMap{
					logrus.DebugLevel: writer,
					logrus.InfoLevel:  writer,
					logrus.WarnLevel:  writer,
					logrus.ErrorLevel: writer,
					logrus.FatalLevel: writer,
				},
				&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"},
			))
		}
	}
	return logger
}

// GetLogLevel reads the level from the given env var, defaulting to INFO.
func GetLogLevel(envName string) logrus.Level {
	switch strings.ToUpper(os.Getenv(envName)) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN", "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func fileInfo(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "<???>"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func entry() *logrus.Entry {
	return logger.WithField("file", fileInfo(3))
}

func Debug(args ...interface{})                 { entry().Debug(args...) }
func Debugf(format string, args ...interface{}) { entry().Debugf(format, args...) }
func Info(args ...interface{})                  { entry().Info(args...) }
func Infof(format string, args ...interface{})  { entry().Infof(format, args...) }
func Warn(args ...interface{})                  { entry().Warn(args...) }
func Warnf(format string, args ...interface{})  { entry().Warnf(format, args...) }
func Error(args ...interface{})                 { entry().Error(args...) }
func Errorf(format string, args ...interface{}) { entry().Errorf(format, args...) }
func Fatal(args ...interface{})                 { entry().Fatal(args...) }
func Fatalf(format string, args ...interface{}) { entry().Fatalf(format, args...) }
