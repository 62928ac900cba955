// Package synclog adapts github.com/ausocean/utils/logging's leveled
// logger to this module's components, the way revid.Logger lets every
// av package log through one small interface without depending on a
// concrete logger.
package synclog

import (
	"github.com/ausocean/utils/logging"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the capability every long-running component in this module
// logs through.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warning(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
	SetLevel(level int8)
	Log(level int8, msg string, args ...interface{})
}

// FileConfig configures rotation for a file-backed Logger.
type FileConfig struct {
	Path       string
	MaxSizeMB  int // default 10.
	MaxBackups int // default 5.
	MaxAgeDays int // default 30.
	Compress   bool
}

func (c FileConfig) withDefaults() FileConfig {
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 30
	}
	return c
}

// New returns a logging.Logger writing to a rotated file at cfg.Path,
// the way cmd/looper and cmd/rv wire lumberjack behind the teacher's
// logging package.
func New(level int8, cfg FileConfig) Logger {
	cfg = cfg.withDefaults()
	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return logging.New(level, w, true)
}
