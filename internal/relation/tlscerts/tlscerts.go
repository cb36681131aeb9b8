// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tlscerts implements the requirer side of the tls-certificates
// interface: keep a private key in a unit-owned secret, publish a CSR for
// the unit's FQDN, and pick the certificate the provider signs for it.
package tlscerts

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
)

var logger = loggo.GetLogger("parca.relation.tlscerts")

// RelationName is the tls-certificates endpoint.
const RelationName = "certificates"

// privateKeyLabel is the unit secret holding the private key.
const privateKeyLabel = "parca-k8s-private-key"

// KeyProfile produces the private key used for certificate requests.
type KeyProfile func() (crypto.Signer, error)

// RSA2048 is the default key profile.
func RSA2048() (crypto.Signer, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// RequestAttributes describe the certificate the charm asks for.
type RequestAttributes struct {
	CommonName string
	SANsDNS    []string
}

// Bundle is an issued certificate with its key and chain.
type Bundle struct {
	Certificate string
	CA          string
	Chain       []string
	Key         string
}

// EnsurePrivateKey returns the unit's private key PEM, generating and
// storing it in a unit secret on first use.
func EnsurePrivateKey(ctx hooktool.Context, profile KeyProfile) (string, error) {
	content, err := ctx.SecretGet(privateKeyLabel)
	if err == nil {
		if key, ok := content["private-key"]; ok && key != "" {
			return key, nil
		}
	} else if !errors.Is(err, hooktool.SecretNotFound) {
		return "", errors.Trace(err)
	}

	if profile == nil {
		profile = RSA2048
	}
	signer, err := profile()
	if err != nil {
		return "", errors.Annotate(err, "generating private key")
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return "", errors.Trace(err)
	}
	keyPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))
	if _, err := ctx.SecretAdd(privateKeyLabel, map[string]string{"private-key": keyPEM}); err != nil {
		return "", errors.Annotate(err, "storing private key secret")
	}
	logger.Infof("generated new private key for certificate requests")
	return keyPEM, nil
}

// GenerateCSR creates a PEM-encoded certificate signing request for the
// attributes, signed with the given key.
func GenerateCSR(keyPEM string, attrs RequestAttributes) (string, error) {
	signer, err := parsePrivateKey(keyPEM)
	if err != nil {
		return "", errors.Trace(err)
	}
	template := x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: attrs.CommonName},
		DNSNames: attrs.SANsDNS,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &template, signer)
	if err != nil {
		return "", errors.Annotate(err, "creating certificate request")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), nil
}

// Reconcile converges the published CSR on every certificates relation: a
// new CSR is generated and published only when none is published yet or the
// published one no longer matches the key or the requested attributes.
// Returns the CSR in force.
func Reconcile(ctx hooktool.Context, unitName, keyPEM string, attrs RequestAttributes) (string, error) {
	ids, err := ctx.RelationIDs(RelationName)
	if err != nil {
		return "", errors.Trace(err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	var csrPEM string
	for _, id := range ids {
		own, err := ctx.RelationGetUnit(id, unitName)
		if err != nil {
			return "", errors.Trace(err)
		}
		published := publishedCSR(own)
		if published != "" && csrMatches(published, keyPEM, attrs) {
			csrPEM = published
			continue
		}
		if csrPEM == "" {
			csrPEM, err = GenerateCSR(keyPEM, attrs)
			if err != nil {
				return "", errors.Trace(err)
			}
		}
		payload, err := json.Marshal([]map[string]interface{}{{
			"certificate_signing_request": csrPEM,
			"ca":                          false,
		}})
		if err != nil {
			return "", errors.Trace(err)
		}
		err = ctx.RelationSetUnit(id, hooktool.Settings{
			"certificate_signing_requests": string(payload),
		})
		if err != nil {
			return "", errors.Trace(err)
		}
		logger.Infof("published certificate signing request for %q", attrs.CommonName)
	}
	return csrPEM, nil
}

func publishedCSR(own hooktool.Settings) string {
	raw, ok := own.Get("certificate_signing_requests")
	if !ok {
		return ""
	}
	var requests []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &requests); err != nil {
		return ""
	}
	for _, req := range requests {
		if csr, ok := req["certificate_signing_request"].(string); ok {
			return csr
		}
	}
	return ""
}

// csrMatches reports whether the CSR was made with the key and asks for
// the given attributes.
func csrMatches(csrPEM, keyPEM string, attrs RequestAttributes) bool {
	csr, err := parseCSR(csrPEM)
	if err != nil {
		return false
	}
	if csr.Subject.CommonName != attrs.CommonName {
		return false
	}
	if !sameStrings(csr.DNSNames, attrs.SANsDNS) {
		return false
	}
	signer, err := parsePrivateKey(keyPEM)
	if err != nil {
		return false
	}
	wantPub, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return false
	}
	gotPub, err := x509.MarshalPKIXPublicKey(csr.PublicKey)
	if err != nil {
		return false
	}
	return string(wantPub) == string(gotPub)
}

// providerCertificate is one entry of the provider's "certificates" list.
type providerCertificate struct {
	CSR         string   `json:"certificate_signing_request"`
	Certificate string   `json:"certificate"`
	CA          string   `json:"ca"`
	Chain       []string `json:"chain"`
}

// AssignedCertificate returns the certificate the provider issued for the
// CSR, or nil while none is available.
func AssignedCertificate(ctx hooktool.Context, csrPEM, keyPEM string) (*Bundle, error) {
	if csrPEM == "" {
		return nil, nil
	}
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
		raw, ok := data.Get("certificates")
		if !ok {
			continue
		}
		var issued []providerCertificate
		if err := json.Unmarshal([]byte(raw), &issued); err != nil {
			return nil, errors.Annotate(err, "parsing provider certificates")
		}
		for _, cert := range issued {
			if normalizePEM(cert.CSR) != normalizePEM(csrPEM) {
				continue
			}
			return &Bundle{
				Certificate: cert.Certificate,
				CA:          cert.CA,
				Chain:       cert.Chain,
				Key:         keyPEM,
			}, nil
		}
	}
	return nil, nil
}

func parsePrivateKey(keyPEM string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, errors.NotValidf("private key PEM")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, errors.NotValidf("private key type")
		}
		return signer, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Annotate(err, "parsing private key")
	}
	return key, nil
}

func parseCSR(csrPEM string) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil {
		return nil, errors.NotValidf("certificate request PEM")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, errors.Annotate(err, "parsing certificate request")
	}
	return csr, nil
}

func normalizePEM(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			return false
		}
	}
	return true
}
