package server_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"weavequery/internal/cert"
	"weavequery/internal/metrics"
	"weavequery/internal/orchestrator"
	"weavequery/internal/server"
	"weavequery/internal/traceclient"
	"weavequery/internal/tracestore"
)

const project = "acme/proj"

func newStore(t *testing.T) *tracestore.Store {
	t.Helper()
	s := tracestore.New()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.AddCall(map[string]any{"id": id, "project_id": project}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.PutObject("weave:///acme/proj/object/Model:v0", map[string]any{"name": "gpt"}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEmbeddedClient(t *testing.T) {
	srv := server.New(newStore(t), server.Config{})
	c := traceclient.New("http://embedded", traceclient.WithHTTPClient(server.EmbeddedClient(srv.Handler())))

	n, err := c.QueryStats(context.Background(), orchestrator.StatsRequest{ProjectID: project})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	vals, err := c.FetchRefs(context.Background(), []string{"weave:///acme/proj/object/Model:v0/attr/name"})
	if err != nil {
		t.Fatal(err)
	}
	if vals[0] != "gpt" {
		t.Errorf("vals = %v, want [gpt]", vals)
	}
}

func TestEmbeddedClientCanceled(t *testing.T) {
	srv := server.New(newStore(t), server.Config{})
	c := traceclient.New("http://embedded", traceclient.WithHTTPClient(server.EmbeddedClient(srv.Handler())))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.QueryStats(ctx, orchestrator.StatsRequest{ProjectID: project}); err == nil {
		t.Error("expected an error for a canceled context")
	}
}

func TestEmbeddedClientRateLimited(t *testing.T) {
	srv := server.New(newStore(t), server.Config{RateLimit: rate.Limit(0.01), Burst: 1})
	c := traceclient.New("http://embedded", traceclient.WithHTTPClient(server.EmbeddedClient(srv.Handler())))

	req := orchestrator.StatsRequest{ProjectID: project}
	if _, err := c.QueryStats(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	_, err := c.QueryStats(context.Background(), req)
	if got := connect.CodeOf(err); got != connect.CodeResourceExhausted {
		t.Errorf("code = %v, want resource_exhausted (err %v)", got, err)
	}
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := server.New(newStore(t), server.Config{Gatherer: reg, Metrics: metrics.New(reg)})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	base := "http://" + ln.Addr().String()
	c := traceclient.New(base)
	rows, err := c.QueryCalls(context.Background(), orchestrator.Request{ProjectID: project, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}

	for path, want := range map[string]string{
		"/healthz": "",
		"/readyz":  "",
		"/metrics": `weavequery_trace_requests_total{endpoint="/calls/query",status="ok"} 1`,
	} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d", path, resp.StatusCode)
		}
		if !strings.Contains(string(body), want) {
			t.Errorf("%s: body missing %q:\n%s", path, want, body)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Serve returned %v", err)
	}
}

func TestStopBeforeServe(t *testing.T) {
	srv := server.New(newStore(t), server.Config{})
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop = %v, want nil", err)
	}
	if srv.Addr() != nil {
		t.Errorf("Addr = %v, want nil", srv.Addr())
	}
}

// selfSigned writes a localhost certificate and key and loads them.
func selfSigned(t *testing.T) *cert.KeyPair {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	kp, err := cert.Load(certFile, keyFile, nil)
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func TestServeTLS(t *testing.T) {
	kp := selfSigned(t)
	srv := server.New(newStore(t), server.Config{TLS: kp.TLSConfig()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	hc := &http.Client{Transport: &http.Transport{
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test cert
		ForceAttemptHTTP2: true,
	}}
	c := traceclient.New("https://"+ln.Addr().String(), traceclient.WithHTTPClient(hc))
	n, err := c.QueryStats(context.Background(), orchestrator.StatsRequest{ProjectID: project})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Serve returned %v", err)
	}
}
