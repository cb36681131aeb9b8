// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package workloadtest provides an in-memory workload.Container for tests.
package workloadtest

import (
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/testing"
)

// Container is a fake workload.Container backed by maps. The embedded
// Stub records calls and injects errors.
type Container struct {
	*testing.Stub

	ContainerName string
	Connected     bool

	// Files maps path to content for everything pushed.
	Files map[string][]byte

	// Layers maps label to the last layer YAML added under it.
	Layers map[string][]byte

	// Running tracks service state. Replan marks every service in
	// Services running; Restart re-marks the named ones.
	Running map[string]bool

	// Services lists the service names Replan brings up.
	Services []string

	// ExecCommands accumulates every Exec invocation.
	ExecCommands [][]string
}

// NewContainer returns a connected fake container with no files.
func NewContainer(name string, services ...string) *Container {
	return &Container{
		Stub:          &testing.Stub{},
		ContainerName: name,
		Connected:     true,
		Files:         map[string][]byte{},
		Layers:        map[string][]byte{},
		Running:       map[string]bool{},
		Services:      services,
	}
}

func (c *Container) Name() string {
	return c.ContainerName
}

func (c *Container) CanConnect() bool {
	c.AddCall("CanConnect")
	return c.Connected
}

func (c *Container) Push(path string, data []byte, perm os.FileMode) error {
	c.AddCall("Push", path, data, perm)
	if err := c.NextErr(); err != nil {
		return err
	}
	c.Files[path] = append([]byte(nil), data...)
	return nil
}

func (c *Container) Pull(path string) ([]byte, error) {
	c.AddCall("Pull", path)
	if err := c.NextErr(); err != nil {
		return nil, err
	}
	data, ok := c.Files[path]
	if !ok {
		return nil, errors.NotFoundf("%s in %q", path, c.ContainerName)
	}
	return data, nil
}

func (c *Container) Exists(path string) bool {
	c.AddCall("Exists", path)
	_, ok := c.Files[path]
	return ok
}

func (c *Container) RemovePath(path string) error {
	c.AddCall("RemovePath", path)
	if err := c.NextErr(); err != nil {
		return err
	}
	for name := range c.Files {
		if name == path || strings.HasPrefix(name, path+"/") {
			delete(c.Files, name)
		}
	}
	return nil
}

func (c *Container) AddLayer(label string, layerYAML []byte) error {
	c.AddCall("AddLayer", label, layerYAML)
	if err := c.NextErr(); err != nil {
		return err
	}
	c.Layers[label] = append([]byte(nil), layerYAML...)
	return nil
}

func (c *Container) Replan() error {
	c.AddCall("Replan")
	if err := c.NextErr(); err != nil {
		return err
	}
	for _, service := range c.Services {
		c.Running[service] = true
	}
	return nil
}

func (c *Container) Restart(services ...string) error {
	c.AddCall("Restart", services)
	if err := c.NextErr(); err != nil {
		return err
	}
	for _, service := range services {
		c.Running[service] = true
	}
	return nil
}

func (c *Container) Exec(command ...string) error {
	c.AddCall("Exec", command)
	if err := c.NextErr(); err != nil {
		return err
	}
	c.ExecCommands = append(c.ExecCommands, command)
	return nil
}

func (c *Container) ServiceRunning(service string) (bool, error) {
	c.AddCall("ServiceRunning", service)
	if err := c.NextErr(); err != nil {
		return false, err
	}
	return c.Running[service], nil
}
