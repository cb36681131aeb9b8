// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tlscerts_test

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
	"github.com/canonical/parca-k8s-operator/internal/hooktool/hooktooltest"
	"github.com/canonical/parca-k8s-operator/internal/relation/tlscerts"
)

// ecKey is a fast key profile for tests; production uses RSA 2048.
func ecKey() (crypto.Signer, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

type certsSuite struct {
	ctx   *hooktooltest.Context
	attrs tlscerts.RequestAttributes
}

var _ = gc.Suite(&certsSuite{})

func (s *certsSuite) SetUpTest(c *gc.C) {
	s.ctx = hooktooltest.NewContext("parca-k8s/0")
	s.attrs = tlscerts.RequestAttributes{
		CommonName: "parca-k8s-0.parca-k8s-endpoints.cos.svc.cluster.local",
		SANsDNS:    []string{"parca-k8s-0.parca-k8s-endpoints.cos.svc.cluster.local"},
	}
}

func (s *certsSuite) TestEnsurePrivateKeyGenerates(c *gc.C) {
	keyPEM, err := tlscerts.EnsurePrivateKey(s.ctx, ecKey)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(keyPEM, jc.Contains, "BEGIN PRIVATE KEY")
	c.Check(s.ctx.Secrets["parca-k8s-private-key"]["private-key"], gc.Equals, keyPEM)
}

func (s *certsSuite) TestEnsurePrivateKeyStable(c *gc.C) {
	first, err := tlscerts.EnsurePrivateKey(s.ctx, ecKey)
	c.Assert(err, jc.ErrorIsNil)
	second, err := tlscerts.EnsurePrivateKey(s.ctx, ecKey)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(second, gc.Equals, first)
}

func (s *certsSuite) TestGenerateCSR(c *gc.C) {
	keyPEM, err := tlscerts.EnsurePrivateKey(s.ctx, ecKey)
	c.Assert(err, jc.ErrorIsNil)
	csrPEM, err := tlscerts.GenerateCSR(keyPEM, s.attrs)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(csrPEM, jc.Contains, "BEGIN CERTIFICATE REQUEST")
}

func (s *certsSuite) TestReconcilePublishesCSR(c *gc.C) {
	rel := s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        6,
		Name:      tlscerts.RelationName,
		RemoteApp: "ca",
	})
	keyPEM, err := tlscerts.EnsurePrivateKey(s.ctx, ecKey)
	c.Assert(err, jc.ErrorIsNil)

	csrPEM, err := tlscerts.Reconcile(s.ctx, "parca-k8s/0", keyPEM, s.attrs)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(csrPEM, jc.Contains, "BEGIN CERTIFICATE REQUEST")

	var published []map[string]interface{}
	raw := rel.LocalUnitData["certificate_signing_requests"]
	c.Assert(json.Unmarshal([]byte(raw), &published), jc.ErrorIsNil)
	c.Assert(published, gc.HasLen, 1)
	c.Check(published[0]["certificate_signing_request"], gc.Equals, csrPEM)
	c.Check(published[0]["ca"], gc.Equals, false)
}

func (s *certsSuite) TestReconcileKeepsMatchingCSR(c *gc.C) {
	s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        6,
		Name:      tlscerts.RelationName,
		RemoteApp: "ca",
	})
	keyPEM, err := tlscerts.EnsurePrivateKey(s.ctx, ecKey)
	c.Assert(err, jc.ErrorIsNil)

	first, err := tlscerts.Reconcile(s.ctx, "parca-k8s/0", keyPEM, s.attrs)
	c.Assert(err, jc.ErrorIsNil)

	// CSR creation is randomized, so an unchanged request must not
	// produce churn in the databag.
	second, err := tlscerts.Reconcile(s.ctx, "parca-k8s/0", keyPEM, s.attrs)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(second, gc.Equals, first)
}

func (s *certsSuite) TestReconcileReplacesCSROnNewAttributes(c *gc.C) {
	s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        6,
		Name:      tlscerts.RelationName,
		RemoteApp: "ca",
	})
	keyPEM, err := tlscerts.EnsurePrivateKey(s.ctx, ecKey)
	c.Assert(err, jc.ErrorIsNil)

	first, err := tlscerts.Reconcile(s.ctx, "parca-k8s/0", keyPEM, s.attrs)
	c.Assert(err, jc.ErrorIsNil)

	s.attrs.CommonName = "other.example.com"
	second, err := tlscerts.Reconcile(s.ctx, "parca-k8s/0", keyPEM, s.attrs)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(second, gc.Not(gc.Equals), first)
}

func (s *certsSuite) TestReconcileNoRelations(c *gc.C) {
	keyPEM, err := tlscerts.EnsurePrivateKey(s.ctx, ecKey)
	c.Assert(err, jc.ErrorIsNil)
	csrPEM, err := tlscerts.Reconcile(s.ctx, "parca-k8s/0", keyPEM, s.attrs)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(csrPEM, gc.Equals, "")
}

func (s *certsSuite) TestAssignedCertificate(c *gc.C) {
	keyPEM, err := tlscerts.EnsurePrivateKey(s.ctx, ecKey)
	c.Assert(err, jc.ErrorIsNil)
	csrPEM, err := tlscerts.GenerateCSR(keyPEM, s.attrs)
	c.Assert(err, jc.ErrorIsNil)

	issued, err := json.Marshal([]map[string]interface{}{{
		"certificate_signing_request": csrPEM,
		"certificate":                 "CERT",
		"ca":                          "CA",
		"chain":                       []string{"CERT", "CA"},
	}})
	c.Assert(err, jc.ErrorIsNil)
	s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        6,
		Name:      tlscerts.RelationName,
		RemoteApp: "ca",
		AppData:   hooktool.Settings{"certificates": string(issued)},
	})

	bundle, err := tlscerts.AssignedCertificate(s.ctx, csrPEM, keyPEM)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(bundle, gc.NotNil)
	c.Check(bundle.Certificate, gc.Equals, "CERT")
	c.Check(bundle.CA, gc.Equals, "CA")
	c.Check(bundle.Chain, jc.DeepEquals, []string{"CERT", "CA"})
	c.Check(bundle.Key, gc.Equals, keyPEM)
}

func (s *certsSuite) TestAssignedCertificateOtherCSRIgnored(c *gc.C) {
	keyPEM, err := tlscerts.EnsurePrivateKey(s.ctx, ecKey)
	c.Assert(err, jc.ErrorIsNil)
	csrPEM, err := tlscerts.GenerateCSR(keyPEM, s.attrs)
	c.Assert(err, jc.ErrorIsNil)

	issued := fmt.Sprintf(`[{"certificate_signing_request": %q, "certificate": "CERT", "ca": "CA"}]`,
		"-----BEGIN CERTIFICATE REQUEST-----\nother\n-----END CERTIFICATE REQUEST-----")
	s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        6,
		Name:      tlscerts.RelationName,
		RemoteApp: "ca",
		AppData:   hooktool.Settings{"certificates": issued},
	})

	bundle, err := tlscerts.AssignedCertificate(s.ctx, csrPEM, keyPEM)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(bundle, gc.IsNil)
}

func (s *certsSuite) TestAssignedCertificateWithoutCSR(c *gc.C) {
	bundle, err := tlscerts.AssignedCertificate(s.ctx, "", "key")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(bundle, gc.IsNil)
	s.ctx.CheckNoCalls(c)
}
