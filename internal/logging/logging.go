package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"mytasks/internal/config"
)

// New builds the application logger. The level follows env unless level is
// set; local gets a console writer, other environments log JSON. When file is
// set, JSON lines are also written to a rotating file.
func New(env, level, file string) (zerolog.Logger, io.Closer, error) {
	lvl, err := levelFor(env, level)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if env == config.EnvLocal {
		cw := zerolog.NewConsoleWriter()
		cw.TimeFormat = time.DateTime
		cw.Out = os.Stdout
		out = cw
	}

	var closer io.Closer = nopCloser{}
	if file != "" {
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // MB
			MaxBackups: 30,
			MaxAge:     90, // days
		}
		out = zerolog.MultiLevelWriter(out, rotating)
		closer = rotating
	}

	logger := zerolog.New(out).
		With().
		Timestamp().
		Int("pid", os.Getpid()).
		Logger()
	return logger, closer, nil
}

func levelFor(env, level string) (zerolog.Level, error) {
	if level != "" {
		return zerolog.ParseLevel(level)
	}
	switch env {
	case config.EnvDev:
		return zerolog.DebugLevel, nil
	case config.EnvProd:
		return zerolog.InfoLevel, nil
	case config.EnvLocal:
		return zerolog.TraceLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown env: %s", env)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
