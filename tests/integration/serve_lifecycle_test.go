// Copyright 2024 ShortFUSE Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package integration

import (
	"net"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/redballoonsecurity/shortfuse/internal/daemon"
)

// startServe launches a serve session on an ephemeral port and returns it
// once it is accepting connections.
func startServe(t *testing.T, g *WithT, cfg *daemon.ServeConfig) (*daemon.Server, chan error) {
	t.Helper()
	server := daemon.NewServer(cfg)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	g.Eventually(server.Addr, 5*time.Second, 50*time.Millisecond).ShouldNot(BeNil())
	return server, errCh
}

func TestServeLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Setenv("SHORTFUSE_CONFIG_DIR", t.TempDir())
	g := NewWithT(t)

	cfg := &daemon.ServeConfig{Listen: "127.0.0.1:0"}
	server, errCh := startServe(t, g, cfg)

	// The endpoint accepts TCP connections.
	conn, err := net.DialTimeout("tcp", server.Addr().String(), 2*time.Second)
	g.Expect(err).NotTo(HaveOccurred())
	conn.Close()

	// The tree behind the endpoint is live.
	o := server.Ops()
	g.Expect(o).NotTo(BeNil())
	fh, err := o.Create("/probe", 0644)
	g.Expect(err).NotTo(HaveOccurred())
	_, err = o.Write("/probe", []byte("ok"), 0, fh)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(o.Release("/probe", fh)).To(Succeed())

	server.Shutdown()
	g.Eventually(errCh, 5*time.Second).Should(Receive())
}

func TestServeRefusesSecondInstance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Setenv("SHORTFUSE_CONFIG_DIR", t.TempDir())
	g := NewWithT(t)

	first, errCh := startServe(t, g, &daemon.ServeConfig{Listen: "127.0.0.1:0"})
	defer func() {
		first.Shutdown()
		g.Eventually(errCh, 5*time.Second).Should(Receive())
	}()

	second := daemon.NewServer(&daemon.ServeConfig{Listen: "127.0.0.1:0"})
	err := second.Start()
	g.Expect(err).To(MatchError(ContainSubstring("already running")))
}

func TestServeSeedsFromLocalDirectory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Setenv("SHORTFUSE_CONFIG_DIR", t.TempDir())
	g := NewWithT(t)

	seedDir := t.TempDir()
	writeLocalFile(g, seedDir, "greeting.txt", "hello from disk")
	writeLocalFile(g, seedDir, "nested/inner.txt", "deeper")

	cfg := &daemon.ServeConfig{Listen: "127.0.0.1:0", SeedDir: seedDir}
	server, errCh := startServe(t, g, cfg)
	defer func() {
		server.Shutdown()
		g.Eventually(errCh, 5*time.Second).Should(Receive())
	}()

	o := server.Ops()
	fields, err := o.GetAttr("/greeting.txt", 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(fields["st_size"]).To(Equal(int64(15)))

	fh, err := o.Open("/nested/inner.txt")
	g.Expect(err).NotTo(HaveOccurred())
	data, err := o.Read("/nested/inner.txt", 64, 0, fh)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(o.Release("/nested/inner.txt", fh)).To(Succeed())
	g.Expect(string(data)).To(Equal("deeper"))
}
