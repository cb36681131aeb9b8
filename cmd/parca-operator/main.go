// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// parca-operator is the dispatch binary of the parca-k8s charm: Juju execs
// it once per lifecycle event with the hook context in the environment and
// the jujuc tools on the PATH.
package main

import (
	"fmt"
	"os"

	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/canonical/parca-k8s-operator/internal/charm"
	"github.com/canonical/parca-k8s-operator/internal/hook"
	"github.com/canonical/parca-k8s-operator/internal/hooktool"
	"github.com/canonical/parca-k8s-operator/internal/k8s"
	"github.com/canonical/parca-k8s-operator/internal/workload"
)

var logger = loggo.GetLogger("parca")

func main() {
	os.Exit(Main(os.Args))
}

// Main runs the dispatch and returns the process exit code. A non-zero
// exit makes Juju flag the hook as failed and retry it.
func Main(args []string) int {
	flags := gnuflag.NewFlagSetWithFlagKnownAs(args[0], gnuflag.ContinueOnError, "option")
	verbose := flags.Bool("verbose", false, "enable debug logging")
	if err := flags.Parse(true, args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	configureLogging(*verbose)

	if err := run(); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	return 0
}

func configureLogging(verbose bool) {
	level := "INFO"
	if verbose || os.Getenv("JUJU_DEBUG") != "" {
		level = "DEBUG"
	}
	if err := loggo.ConfigureLoggers("parca=" + level); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	// Inside a hook context, mirror log entries to the model log.
	if os.Getenv("JUJU_CONTEXT_ID") != "" {
		if err := loggo.RegisterWriter("juju-log", hooktool.NewLogWriter()); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func run() error {
	info, err := hook.Parse(hooktool.Getenv)
	if err != nil {
		return err
	}
	logger.Debugf("dispatching %q for %s", info.Name, info.UnitName)

	containers := make(map[string]workload.Container, len(charm.ContainerNames))
	for _, name := range charm.ContainerNames {
		container, err := workload.Connect(name)
		if err != nil {
			return err
		}
		containers[name] = container
	}

	// In-cluster credentials are only present when the charm has been
	// granted them; run without Service patching otherwise.
	var patcher charm.ServicePortPatcher
	if p, err := k8s.NewServicePatcher(info.ModelName, info.AppName); err != nil {
		logger.Debugf("kubernetes service patching disabled: %v", err)
	} else {
		patcher = p
	}

	operator, err := charm.New(charm.Params{
		Info:       info,
		Tools:      hooktool.NewContext(),
		Containers: containers,
		Patcher:    patcher,
	})
	if err != nil {
		return err
	}
	return operator.Run()
}
