// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package nginx

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Directive is one nginx configuration directive, possibly with a block of
// children. The renderer produces nginx.conf text from a directive tree,
// which keeps the generation declarative and diff-friendly.
type Directive struct {
	Name  string
	Args  []string
	Block []Directive
}

func d(name string, args ...string) Directive {
	return Directive{Name: name, Args: args}
}

func block(name string, args []string, children ...Directive) Directive {
	return Directive{Name: name, Args: args, Block: children}
}

// Render serializes a directive tree as nginx configuration text.
func Render(directives []Directive) string {
	var b strings.Builder
	renderInto(&b, directives, 0)
	return b.String()
}

func renderInto(b *strings.Builder, directives []Directive, depth int) {
	indent := strings.Repeat("    ", depth)
	for _, dir := range directives {
		b.WriteString(indent)
		b.WriteString(dir.Name)
		for _, arg := range dir.Args {
			b.WriteByte(' ')
			b.WriteString(arg)
		}
		if dir.Block != nil {
			b.WriteString(" {\n")
			renderInto(b, dir.Block, depth+1)
			b.WriteString(indent)
			b.WriteString("}\n")
		} else {
			b.WriteString(";\n")
		}
	}
}

// Upstream is a proxied backend address.
type Upstream struct {
	Name string
	Port int
}

// ConfigParams are the inputs of the configuration build.
type ConfigParams struct {
	// ServerName is the TLS server name.
	ServerName string

	// Upstream is the parca backend.
	Upstream Upstream

	// HTTPPort and GRPCPort are the listener ports.
	HTTPPort int
	GRPCPort int

	// TLS switches the listeners to ssl with the certs on disk.
	TLS bool

	// PathPrefix, when set, redirects / to the prefix and serves the
	// proxy under it. Includes the leading slash.
	PathPrefix string

	// Resolver is the DNS resolver address. When empty it is read from
	// /etc/resolv.conf.
	Resolver string
}

// BuildConfig renders the full nginx.conf for the given parameters.
func BuildConfig(params ConfigParams) (string, error) {
	resolver := params.Resolver
	if resolver == "" {
		var err error
		resolver, err = resolverFromResolvConf(resolvConfPath)
		if err != nil {
			return "", errors.Trace(err)
		}
	}
	httpBlock := []Directive{
		upstreamBlock(params.Upstream),
		d("client_body_temp_path", "/tmp/client_temp"),
		d("proxy_temp_path", "/tmp/proxy_temp_path"),
		d("fastcgi_temp_path", "/tmp/fastcgi_temp"),
		d("uwsgi_temp_path", "/tmp/uwsgi_temp"),
		d("scgi_temp_path", "/tmp/scgi_temp"),
		d("default_type", "application/octet-stream"),
		d("log_format", "main",
			`'$remote_addr - $remote_user [$time_local]  $status "$request" $body_bytes_sent "$http_referer" "$http_user_agent" "$http_x_forwarded_for"'`),
		// Only log failures; success chatter drowns the pod logs.
		block("map", []string{"$status", "$loggable"},
			d("~^[23]", "0"),
			d("default", "1"),
		),
		d("access_log", "/dev/stderr"),
		d("sendfile", "on"),
		d("tcp_nopush", "on"),
		d("resolver", resolver),
		block("map", []string{"$http_x_scope_orgid", "$ensured_x_scope_orgid"},
			d("default", "$http_x_scope_orgid"),
			d("''", "anonymous"),
		),
		d("proxy_read_timeout", "300"),
		serverBlock(params, params.GRPCPort, true),
		serverBlock(params, params.HTTPPort, false),
	}
	full := []Directive{
		d("worker_processes", "5"),
		d("error_log", "/dev/stderr", "error"),
		d("pid", "/tmp/nginx.pid"),
		d("worker_rlimit_nofile", "8192"),
		block("events", nil,
			d("worker_connections", "4096"),
		),
		block("http", nil, httpBlock...),
	}
	return Render(full), nil
}

func upstreamBlock(upstream Upstream) Directive {
	return block("upstream", []string{upstream.Name},
		d("server", fmt.Sprintf("127.0.0.1:%d", upstream.Port)),
	)
}

func listenDirectives(port int, ssl, grpc bool) []Directive {
	// Listen on both stacks; single-stack pods ignore the other family.
	makeArgs := func(addr string) []string {
		args := []string{addr}
		if ssl {
			args = append(args, "ssl")
		}
		if grpc {
			args = append(args, "http2")
		}
		return args
	}
	return []Directive{
		{Name: "listen", Args: makeArgs(strconv.Itoa(port))},
		{Name: "listen", Args: makeArgs(fmt.Sprintf("[::]:%d", port))},
	}
}

func locationDirectives(params ConfigParams, grpc bool) []Directive {
	protocol := "http"
	passDirective := "proxy_pass"
	if grpc {
		protocol = "grpc"
		passDirective = "grpc_pass"
	}
	// Parca itself never terminates TLS; nginx always forwards plaintext.
	proxy := []Directive{
		d("set", "$backend", fmt.Sprintf("%s://%s", protocol, params.Upstream.Name)),
		d(passDirective, "$backend"),
		// Fail over fast when the backend is down.
		d("proxy_connect_timeout", "5s"),
	}
	if params.PathPrefix == "" {
		return []Directive{block("location", []string{"/"}, proxy...)}
	}
	return []Directive{
		block("location", []string{"/"},
			d("return", "302", params.PathPrefix),
		),
		block("location", []string{params.PathPrefix}, proxy...),
	}
}

func serverBlock(params ConfigParams, port int, grpc bool) Directive {
	children := listenDirectives(port, params.TLS, grpc)
	children = append(children,
		d("proxy_set_header", "X-Scope-OrgID", "$ensured_x_scope_orgid"),
		d("server_name", params.ServerName),
	)
	if params.TLS {
		children = append(children,
			d("ssl_certificate", CertPath),
			d("ssl_certificate_key", KeyPath),
			d("ssl_protocols", "TLSv1", "TLSv1.1", "TLSv1.2"),
			d("ssl_ciphers", "HIGH:!aNULL:!MD5"),
		)
	}
	children = append(children, locationDirectives(params, grpc)...)
	return block("server", nil, children...)
}

const resolvConfPath = "/etc/resolv.conf"

// resolverFromResolvConf extracts the first nameserver from resolv.conf.
// The charm container shares pod DNS with the workloads, so the local file
// names the right resolver for nginx too.
func resolverFromResolvConf(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Annotate(err, "reading resolver configuration")
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "nameserver" {
			return fields[1], nil
		}
	}
	return "", errors.NotFoundf("nameserver in %s", path)
}
