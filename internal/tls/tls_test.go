package tls

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	cfg, err := Setup(Config{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestSetupRequiresSource(t *testing.T) {
	_, err := Setup(Config{Enabled: true})
	assert.Error(t, err)

	_, err = Setup(Config{Enabled: true, Dir: t.TempDir()})
	assert.ErrorContains(t, err, "not found")

	_, err = Setup(Config{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.1"})
	assert.ErrorContains(t, err, "min_version")
}

func TestAutoGenerateServesHTTPS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	c := Config{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.3"}
	tc, err := Setup(c)
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), tc.MinVersion)

	cert, key := c.Paths()
	for _, p := range []string{cert, key, c.CAPath()} {
		_, err := os.Stat(p)
		require.NoError(t, err, p)
	}
	st, err := os.Stat(key)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}),
		TLSConfig:         tc,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = srv.ServeTLS(ln, "", "") }()
	defer srv.Close()

	pem, err := os.ReadFile(c.CAPath())
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(pem))
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}}}
	resp, err := client.Get("https://" + ln.Addr().String())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))

	// a second setup keeps the existing pair
	before, _ := os.ReadFile(cert)
	_, err = Setup(c)
	require.NoError(t, err)
	after, _ := os.ReadFile(cert)
	assert.Equal(t, before, after)
}

func TestExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key")
	require.NoError(t, GenerateSelfSignedCert(CertConfig{
		CommonName: "x", DNSNames: []string{"x"}, CertPath: certPath, KeyPath: keyPath,
		NotAfter: timeIn(t, 1),
	}))
	c := Config{Enabled: true, CertFile: certPath, KeyFile: keyPath}
	tc, err := Setup(c)
	require.NoError(t, err)
	got, err := tc.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.NotEmpty(t, got.Certificate)
}

func timeIn(t *testing.T, days int) time.Time {
	t.Helper()
	return time.Now().AddDate(0, 0, days)
}
