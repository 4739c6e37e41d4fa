package mainboilerplate

import (
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// DiagnosticsConfig configures the diagnostics endpoint of sqlbridge.
type DiagnosticsConfig struct {
	Listen  string `long:"listen" env:"LISTEN" description:"Address of the diagnostics endpoint (eg, 127.0.0.1:9090). If empty, diagnostics are not served"`
	Profile bool   `long:"profile" env:"PROFILE" description:"Also serve runtime profiles at /debug/pprof/ and expvars at /debug/vars"`
}

// Handler of the diagnostics endpoint. It serves /debug/ready and the
// Prometheus metrics of connections, replays and bootstraps at
// /debug/metrics. With Profile, it also serves profiles and expvars.
func (cfg DiagnosticsConfig) Handler() http.Handler {
	var mux = http.NewServeMux()

	mux.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ready")
	})
	mux.Handle("/debug/metrics", promhttp.Handler())

	if cfg.Profile {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		mux.Handle("/debug/vars", expvar.Handler())
	}
	return mux
}

// InitDiagnosticsAndRecover serves the diagnostics Handler in the
// background, if Listen is set. It returns a closure to be deferred, which
// logs a panic along with a termination message before re-raising it.
func InitDiagnosticsAndRecover(cfg DiagnosticsConfig) func() {
	if cfg.Listen != "" {
		var srv = &http.Server{Addr: cfg.Listen, Handler: cfg.Handler()}

		go func() {
			if err := srv.ListenAndServe(); err != nil {
				log.WithFields(log.Fields{"err": err, "listen": cfg.Listen}).Warn("diagnostics endpoint exited")
			}
		}()
	}

	return func() {
		if r := recover(); r != nil {
			writeTerminationMessage(r)
			panic(r)
		}
	}
}
