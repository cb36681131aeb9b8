// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package workload provides access to the sidecar containers of the pod
// through their Pebble sockets, and the shared Pebble layer plumbing the
// per-workload packages build on.
package workload

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/canonical/pebble/client"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("parca.workload")

// socketPathFormat is the Juju sidecar charm contract: one Pebble socket
// per container, mounted into the charm container.
const socketPathFormat = "/charm/containers/%s/pebble.socket"

// Container is the Pebble API surface the reconcilers consume. It mirrors
// the workload-container operations the operator needs: file transfer,
// layer management, service lifecycle and command execution.
type Container interface {
	// Name returns the container name.
	Name() string

	// CanConnect reports whether the Pebble socket answers.
	CanConnect() bool

	// Push writes data to path inside the container, creating parent
	// directories as needed.
	Push(path string, data []byte, perm os.FileMode) error

	// Pull reads the file at path. Returns errors.NotFound if absent.
	Pull(path string) ([]byte, error)

	// Exists reports whether path exists in the container.
	Exists(path string) bool

	// RemovePath deletes path, recursively.
	RemovePath(path string) error

	// AddLayer adds (or, with combine semantics, replaces) the labelled
	// Pebble layer.
	AddLayer(label string, layerYAML []byte) error

	// Replan brings services in line with the current plan: it starts
	// startup-enabled services that are not running and restarts running
	// services whose plan changed since they started.
	Replan() error

	// Restart restarts the named services.
	Restart(services ...string) error

	// Exec runs a command in the container and waits for it.
	Exec(command ...string) error

	// ServiceRunning reports whether the named service is active.
	ServiceRunning(service string) (bool, error)
}

type pebbleContainer struct {
	name   string
	client *client.Client
}

// Connect returns a Container for the named sidecar, talking to its Pebble
// socket. Connecting does not imply the socket answers; use CanConnect.
func Connect(name string) (Container, error) {
	return ConnectSocket(name, fmt.Sprintf(socketPathFormat, name))
}

// ConnectSocket is Connect with an explicit socket path.
func ConnectSocket(name, socket string) (Container, error) {
	pc, err := client.New(&client.Config{Socket: socket})
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to pebble for container %q", name)
	}
	return &pebbleContainer{name: name, client: pc}, nil
}

func (c *pebbleContainer) Name() string {
	return c.name
}

func (c *pebbleContainer) CanConnect() bool {
	if _, err := c.client.SysInfo(); err != nil {
		logger.Tracef("pebble in %q not ready: %v", c.name, err)
		return false
	}
	return true
}

func (c *pebbleContainer) Push(path string, data []byte, perm os.FileMode) error {
	err := c.client.Push(&client.PushOptions{
		Source:      bytes.NewReader(data),
		Path:        path,
		MakeDirs:    true,
		Permissions: perm,
	})
	return errors.Annotatef(err, "pushing %s to %q", path, c.name)
}

func (c *pebbleContainer) Pull(path string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.client.Pull(&client.PullOptions{Path: path, Target: &buf})
	if err != nil {
		return nil, errors.NewNotFound(err, fmt.Sprintf("%s in %q", path, c.name))
	}
	return buf.Bytes(), nil
}

func (c *pebbleContainer) Exists(path string) bool {
	files, err := c.client.ListFiles(&client.ListFilesOptions{
		Path:   path,
		Itself: true,
	})
	return err == nil && len(files) > 0
}

func (c *pebbleContainer) RemovePath(path string) error {
	err := c.client.RemovePath(&client.RemovePathOptions{Path: path, Recursive: true})
	return errors.Annotatef(err, "removing %s from %q", path, c.name)
}

func (c *pebbleContainer) AddLayer(label string, layerYAML []byte) error {
	err := c.client.AddLayer(&client.AddLayerOptions{
		Combine:   true,
		Label:     label,
		LayerData: layerYAML,
	})
	return errors.Annotatef(err, "adding layer %q to %q", label, c.name)
}

func (c *pebbleContainer) Replan() error {
	changeID, err := c.client.Replan(&client.ServiceOptions{})
	if err != nil {
		return errors.Annotatef(err, "replanning services in %q", c.name)
	}
	return errors.Trace(c.waitChange(changeID))
}

func (c *pebbleContainer) Restart(services ...string) error {
	changeID, err := c.client.Restart(&client.ServiceOptions{Names: services})
	if err != nil {
		return errors.Annotatef(err, "restarting %v in %q", services, c.name)
	}
	return errors.Trace(c.waitChange(changeID))
}

func (c *pebbleContainer) waitChange(id string) error {
	change, err := c.client.WaitChange(id, nil)
	if err != nil {
		return errors.Trace(err)
	}
	if change.Err != "" {
		return errors.Errorf("change %s failed: %s", id, change.Err)
	}
	return nil
}

func (c *pebbleContainer) Exec(command ...string) error {
	process, err := c.client.Exec(&client.ExecOptions{
		Command: command,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	})
	if err != nil {
		return errors.Annotatef(err, "executing %v in %q", command, c.name)
	}
	return errors.Annotatef(process.Wait(), "waiting for %v in %q", command, c.name)
}

func (c *pebbleContainer) ServiceRunning(service string) (bool, error) {
	infos, err := c.client.Services(&client.ServicesOptions{Names: []string{service}})
	if err != nil {
		return false, errors.Trace(err)
	}
	for _, info := range infos {
		if info.Name == service && info.Current == client.StatusActive {
			return true, nil
		}
	}
	return false, nil
}

// EnsureFile pushes data to path only when the current content differs.
// It reports whether a write happened so callers can decide to reload.
func EnsureFile(c Container, path string, data []byte, perm os.FileMode) (bool, error) {
	current, err := c.Pull(path)
	if err == nil && bytes.Equal(current, data) {
		return false, nil
	}
	if err := c.Push(path, data, perm); err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}
