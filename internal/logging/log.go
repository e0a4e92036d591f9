package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"

	"modtile/internal/conf"
)

// New 初始化日志, 同时输出到终端和按天滚动的日志文件
func New(out conf.OutputConfig, level string) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.SetFormatter(&nested.Formatter{
		HideKeys:        false,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		FieldsOrder:     []string{"request_id", "layer", "component"},
	})

	var closer io.Closer = nopCloser{}
	logIO := make([]io.Writer, 0, 2)
	if out.LogDir != "" {
		if err := os.MkdirAll(out.LogDir, os.ModePerm); err != nil {
			return nil, nil, fmt.Errorf("create log dir %s: %w", out.LogDir, err)
		}
		filename := filepath.Join(out.LogDir, time.Now().Format("2006-01-02.log"))
		file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", filename, err)
		}
		logIO = append(logIO, file)
		closer = file
	}
	if out.OutputTerminal || len(logIO) == 0 {
		logIO = append(logIO, os.Stdout)
	}

	// 融合日志输出
	log.SetOutput(ansicolor.NewAnsiColorWriter(io.MultiWriter(logIO...)))

	if level == "" {
		level = out.LogLevel
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("unknown log level %q, falling back to info", level)
	} else {
		log.SetLevel(lvl)
	}
	return log, closer, nil
}

// Discard returns a logger that drops everything, for tests and tools.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
