package mainboilerplate

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"warn" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
	Caller bool   `long:"caller" env:"CALLER" description:"Include the calling function and file of each log event"`
}

// formatters of LogConfig.Format.
var formatters = map[string]func() log.Formatter{
	"json":  func() log.Formatter { return &log.JSONFormatter{} },
	"text":  func() log.Formatter { return &log.TextFormatter{DisableColors: true, FullTimestamp: true} },
	"color": func() log.Formatter { return &log.TextFormatter{ForceColors: true, FullTimestamp: true} },
}

// InitLog configures the standard logger, which writes to stderr so that
// command output on stdout remains parseable.
func InitLog(cfg LogConfig) {
	log.SetOutput(os.Stderr)
	log.SetReportCaller(cfg.Caller)

	if fn, ok := formatters[cfg.Format]; ok {
		log.SetFormatter(fn())
	}
	var lvl, err = log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	}
	log.SetLevel(lvl)
	log.WithFields(log.Fields{"level": lvl, "format": cfg.Format, "version": Version}).Debug("initialized logging")
}
