// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package k8s_test

import (
	"context"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
	core "k8s.io/api/core/v1"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/canonical/parca-k8s-operator/internal/k8s"
)

type serviceSuite struct{}

var _ = gc.Suite(&serviceSuite{})

func placeholderService() *core.Service {
	return &core.Service{
		ObjectMeta: meta.ObjectMeta{
			Name:      "parca-k8s",
			Namespace: "cos",
		},
		Spec: core.ServiceSpec{
			Ports: []core.ServicePort{
				{Name: "placeholder", Port: 65535, TargetPort: intstr.FromInt(65535), Protocol: core.ProtocolTCP},
			},
		},
	}
}

func (s *serviceSuite) TestEnsurePortsPatches(c *gc.C) {
	client := fake.NewSimpleClientset(placeholderService())
	patcher := k8s.NewServicePatcherForClient(client, "cos", "parca-k8s")

	err := patcher.EnsurePorts(context.Background(), []k8s.ServicePort{
		{Name: "parca-k8s-http", Port: 8080},
		{Name: "parca-k8s-grpc", Port: 8081},
	})
	c.Assert(err, jc.ErrorIsNil)

	svc, err := client.CoreV1().Services("cos").Get(context.Background(), "parca-k8s", meta.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(svc.Spec.Ports, jc.DeepEquals, []core.ServicePort{
		{Name: "parca-k8s-http", Port: 8080, TargetPort: intstr.FromInt(8080), Protocol: core.ProtocolTCP},
		{Name: "parca-k8s-grpc", Port: 8081, TargetPort: intstr.FromInt(8081), Protocol: core.ProtocolTCP},
	})
}

func (s *serviceSuite) TestEnsurePortsIdempotent(c *gc.C) {
	client := fake.NewSimpleClientset(placeholderService())
	patcher := k8s.NewServicePatcherForClient(client, "cos", "parca-k8s")
	ports := []k8s.ServicePort{{Name: "parca-k8s-http", Port: 8080}}

	c.Assert(patcher.EnsurePorts(context.Background(), ports), jc.ErrorIsNil)

	// Second pass must not issue an update.
	updates := 0
	client.ClearActions()
	c.Assert(patcher.EnsurePorts(context.Background(), ports), jc.ErrorIsNil)
	for _, action := range client.Actions() {
		if action.GetVerb() == "update" {
			updates++
		}
	}
	c.Check(updates, gc.Equals, 0)
}

func (s *serviceSuite) TestEnsurePortsMissingService(c *gc.C) {
	client := fake.NewSimpleClientset()
	patcher := k8s.NewServicePatcherForClient(client, "cos", "parca-k8s")
	err := patcher.EnsurePorts(context.Background(), []k8s.ServicePort{{Name: "http", Port: 8080}})
	c.Assert(err, jc.ErrorIsNil)
}
