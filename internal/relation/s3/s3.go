// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package s3 implements the requirer side of the s3 interface: request a
// bucket from an s3 integrator and read back the connection credentials
// that feed Parca's object storage configuration.
package s3

import (
	"encoding/json"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
)

// RelationName is the s3 endpoint.
const RelationName = "s3"

// ConnectionInfo is the s3 relation databag, as published by the s3
// integrator charm.
type ConnectionInfo struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string

	// TLSCAChain is the CA chain for the endpoint, when it serves TLS.
	TLSCAChain []string
}

// CACert unifies the CA chain into a single PEM bundle, or "" when the
// endpoint is plaintext.
func (c ConnectionInfo) CACert() string {
	return strings.Join(c.TLSCAChain, "\n\n")
}

// RequestBucket publishes the desired bucket name. Leader only; no-op
// otherwise.
func RequestBucket(ctx hooktool.Context, bucket string, leader bool) error {
	if !leader {
		return nil
	}
	ids, err := ctx.RelationIDs(RelationName)
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		if err := ctx.RelationSetApp(id, hooktool.Settings{"bucket": bucket}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Connection returns the s3 connection info when a relation provides a
// complete one, nil otherwise. Partial databags (integrator still working)
// count as absent.
func Connection(ctx hooktool.Context) (*ConnectionInfo, error) {
	ids, err := ctx.RelationIDs(RelationName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, id := range ids {
		units, err := ctx.RelationListUnits(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(units) == 0 {
			continue
		}
		remoteApp := strings.SplitN(units[0], "/", 2)[0]
		data, err := ctx.RelationGetApp(id, remoteApp)
		if err != nil {
			return nil, errors.Trace(err)
		}
		info, err := parseConnection(data)
		if err != nil {
			return nil, errors.Annotatef(err, "relation %d", id)
		}
		if info != nil {
			return info, nil
		}
	}
	return nil, nil
}

func parseConnection(data hooktool.Settings) (*ConnectionInfo, error) {
	endpoint, ok := data.Get("endpoint")
	if !ok {
		return nil, nil
	}
	bucket, ok := data.Get("bucket")
	if !ok {
		return nil, nil
	}
	accessKey, ok := data.Get("access-key")
	if !ok {
		return nil, nil
	}
	secretKey, ok := data.Get("secret-key")
	if !ok {
		return nil, nil
	}
	info := &ConnectionInfo{
		Endpoint:  endpoint,
		Bucket:    bucket,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
	info.Region, _ = data.Get("region")
	if chain, ok := data.Get("tls-ca-chain"); ok {
		if err := json.Unmarshal([]byte(chain), &info.TLSCAChain); err != nil {
			return nil, errors.Annotate(err, "parsing tls-ca-chain")
		}
	}
	return info, nil
}
