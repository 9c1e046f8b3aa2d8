package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Config log 輸出設定
type Config struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL"`   // debug / info / warn / error
	Format     string `yaml:"format" envconfig:"LOG_FORMAT"` // text / json / logfmt
	Prefix     string `yaml:"prefix" envconfig:"LOG_PREFIX"`
	TimeFormat string `yaml:"time_format" envconfig:"LOG_TIME_FORMAT"`
	Caller     bool   `yaml:"caller" envconfig:"LOG_CALLER"`
}

var formatters = map[string]log.Formatter{
	"text":   log.TextFormatter,
	"json":   log.JSONFormatter,
	"logfmt": log.LogfmtFormatter,
}

// New 建立以 charmbracelet/log 為 handler 的 slog.Logger
// w 為 nil 時輸出到 stdout；無法辨識的 level 視為 info
func New(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = log.InfoLevel
	}
	formatter, ok := formatters[strings.ToLower(cfg.Format)]
	if !ok {
		formatter = log.TextFormatter
	}
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = "2006-01-02T15:04:05.000Z07:00"
	}

	handler := log.NewWithOptions(w, log.Options{
		ReportCaller:    cfg.Caller,
		ReportTimestamp: true,
		TimeFormat:      timeFormat,
		Level:           level,
		Prefix:          cfg.Prefix,
		Formatter:       formatter,
	})
	return slog.New(handler)
}

// Setup 建立 logger 並設為 slog 預設值
func Setup(cfg Config) *slog.Logger {
	l := New(cfg, os.Stdout)
	slog.SetDefault(l)
	return l
}
