// Package main starts a StaffCycle server.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/staffops/staffcycle/engine"
	enginehttp "github.com/staffops/staffcycle/engine/http"
	httpcmd "github.com/staffops/staffcycle/http"
	"github.com/staffops/staffcycle/logkeys"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/envflag"
	nanohttp "github.com/micromdm/nanolib/http"
	"github.com/micromdm/nanolib/http/trace"
	"github.com/micromdm/nanolib/log/stdlogfmt"
)

// overridden by -ldflags -X
var version = "unknown"

const (
	apiUsername = "staffcycle"
	apiRealm    = "staffcycle"
)

func main() {
	var (
		flDebug   = flag.Bool("debug", false, "log debug messages")
		flListen  = flag.String("listen", ":9005", "HTTP listen address")
		flVersion = flag.Bool("version", false, "print version and exit")
		flDumpAPI = flag.Bool("dump-api", false, "dump API requests")
		flAPIKey  = flag.String("api", "", "API key for API endpoints")
		flWHURL   = flag.String("webhook-url", "", "URL of the provisioning webhook endpoint")
		flWHAPI   = flag.String("webhook-api", "", "provisioning webhook API key")
		flAMQPURL = flag.String("amqp-url", "", "URL of AMQP broker for announcements")
		flAMQPExc = flag.String("amqp-exchange", "staffcycle", "AMQP exchange for announcements")
		flStorage = flag.String("storage", "file", "name of storage backend")
		flDSN     = flag.String("storage-dsn", "", "data source name (e.g. connection string or path)")
		flWorkSec = flag.Uint("worker-interval", uint(engine.DefaultWorkerDuration/time.Second), "interval for worker in seconds")
		flStTOSec = flag.Uint("step-timeout", uint(engine.DefaultTimeout/time.Second), "default step timeout in seconds")
	)
	envflag.Parse("STAFFCYCLE_", []string{"version"})

	if *flVersion {
		fmt.Println(version)
		return
	}

	logger := stdlogfmt.New(stdlogfmt.WithDebugFlag(*flDebug))

	if *flWHURL == "" {
		logger.Info(logkeys.Error, "webhook URL required")
		os.Exit(1)
	}

	// configure storage
	store, err := parseStorage(*flStorage, *flDSN)
	if err != nil {
		logger.Info(logkeys.Message, "parse storage", logkeys.Error, err)
		os.Exit(1)
	}

	// configure the lifecycle engine
	eOpts := []engine.Option{engine.WithLogger(logger.With("service", "engine"))}
	if *flStTOSec > 0 {
		eOpts = append(eOpts, engine.WithTimeout(time.Second*time.Duration(*flStTOSec)))
	}
	e := engine.New(store, eOpts...)

	// configure the engine worker (async timeout reconciler)
	var eWorker *engine.Worker
	if *flWorkSec > 0 {
		eWorker = engine.NewWorker(
			e,
			store,
			engine.WithWorkerLogger(logger.With("service", "engine worker")),
			engine.WithWorkerDuration(time.Second*time.Duration(*flWorkSec)),
		)
	}

	// register step adapters with the engine
	err = registerAdapters(logger, e, &adapterConfig{
		webhookURL: *flWHURL,
		webhookAPI: *flWHAPI,
		amqpURL:    *flAMQPURL,
		amqpExc:    *flAMQPExc,
	})
	if err != nil {
		logger.Info(logkeys.Message, "registering adapters", logkeys.Error, err)
		os.Exit(1)
	}

	mux := flow.New()

	mux.Handle("/version", nanohttp.NewJSONVersionHandler(version))

	if *flAPIKey != "" {
		mux.Group(func(mux *flow.Mux) {
			mux.Use(func(h http.Handler) http.Handler {
				h = nanohttp.NewSimpleBasicAuthHandler(h, apiUsername, *flAPIKey, apiRealm)
				if *flDumpAPI {
					h = httpcmd.DumpHandler(h, os.Stdout)
				}
				return h
			})

			enginehttp.HandleAPIv1("/v1", mux, logger, e)
		})
	}

	if eWorker != nil {
		go func() {
			err := eWorker.Run(context.Background())
			logs := []interface{}{logkeys.Message, "engine worker stopped"}
			if err != nil {
				logger.Info(append(logs, logkeys.Error, err)...)
				return
			}
			logger.Debug(logs...)
		}()
	}

	// seed for newTraceID
	rand.Seed(time.Now().UnixNano())

	logger.Info(logkeys.Message, "starting server", "listen", *flListen)
	err = http.ListenAndServe(*flListen, trace.NewTraceLoggingHandler(mux, logger.With("handler", "log"), newTraceID))
	logs := []interface{}{logkeys.Message, "server shutdown"}
	if err != nil {
		logs = append(logs, logkeys.Error, err)
	}
	logger.Info(logs...)
}

// newTraceID generates a new HTTP trace ID for context logging.
// Currently this just makes a random string. This would be better
// served by e.g. https://github.com/oklog/ulid or something like
// https://opentelemetry.io/ someday.
func newTraceID(_ *http.Request) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
