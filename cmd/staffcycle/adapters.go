package main

import (
	"fmt"

	"github.com/staffops/staffcycle/adapter/manual"
	"github.com/staffops/staffcycle/adapter/notify"
	"github.com/staffops/staffcycle/adapter/webhook"
	"github.com/staffops/staffcycle/workflow"

	"github.com/micromdm/nanolib/log"
)

type registerer interface {
	RegisterAdapter(a workflow.Adapter) error
	CheckAdapters() error
}

type adapterConfig struct {
	webhookURL string
	webhookAPI string
	amqpURL    string
	amqpExc    string
}

// announcement steps publish to the broker instead of calling the webhook
var announceSteps = map[string]bool{
	workflow.StepWelcomeAnnouncement:   true,
	workflow.StepDepartureAnnouncement: true,
}

// registerAdapters wires an adapter for every step the registry
// defines. Manual steps get the manual adapter, announcement steps the
// AMQP publisher when one is configured, and everything else the
// provisioning webhook.
func registerAdapters(logger log.Logger, r registerer, cfg *adapterConfig) error {
	var pub *notify.Publisher
	if cfg.amqpURL != "" {
		var err error
		if pub, err = notify.NewPublisher(cfg.amqpURL, cfg.amqpExc); err != nil {
			return fmt.Errorf("creating amqp publisher: %w", err)
		}
	}

	manualSteps := make(map[string]bool)
	for _, def := range workflow.Definitions() {
		for _, st := range def.Steps {
			if st.Manual {
				manualSteps[st.Name] = true
			}
		}
	}

	for _, name := range workflow.StepNames() {
		var a workflow.Adapter
		switch {
		case manualSteps[name]:
			a = manual.New(name, manual.WithLogger(logger))
		case announceSteps[name] && pub != nil:
			a = notify.New(name, pub, notify.WithLogger(logger))
		default:
			var err error
			a, err = webhook.New(
				name,
				cfg.webhookURL,
				webhook.WithAPIKey(cfg.webhookAPI),
				webhook.WithLogger(logger),
			)
			if err != nil {
				return fmt.Errorf("creating webhook adapter for %s: %w", name, err)
			}
		}
		if err := r.RegisterAdapter(a); err != nil {
			return fmt.Errorf("registering adapter for %s: %w", name, err)
		}
	}

	return r.CheckAdapters()
}
