package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"

	"arbor/internal/config"
	"arbor/internal/stream"
)

func startServer(t *testing.T, srv *Server) (cancel func(), errCh <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- srv.Run(ctx) }()
	select {
	case <-srv.Started():
	case err := <-ch:
		cancelFn()
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		cancelFn()
		t.Fatal("server did not start")
	}
	return cancelFn, ch
}

func stopServer(t *testing.T, cancel func(), errCh <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, want stream.MessageType) []stream.Envelope {
	t.Helper()
	var seen []stream.Envelope
	deadline := time.Now().Add(20 * time.Second)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("set deadline: %v", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read while waiting for %s: %v", want, err)
		}
		env, err := stream.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		seen = append(seen, env)
		if env.Type == want {
			return seen
		}
	}
}

func TestRunStreamsGrowthAndRestarts(t *testing.T) {
	srv := newTestServer(t)
	cancel, errCh := startServer(t, srv)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msgs := readUntil(t, conn, stream.MessageDone)
	if msgs[0].Type != stream.MessageHello {
		t.Fatalf("first message = %s, want hello", msgs[0].Type)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Seq <= msgs[i-1].Seq {
			t.Fatalf("sequence not increasing at %d: %d after %d", i, msgs[i].Seq, msgs[i-1].Seq)
		}
	}

	resp, err := http.Post("http://"+srv.Addr()+"/restart", "application/json", nil)
	if err != nil {
		t.Fatalf("post restart: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("restart status = %d", resp.StatusCode)
	}

	readUntil(t, conn, stream.MessageRestart)
	if _, id := srv.current(); id != "tree-2" {
		t.Fatalf("session after restart = %q, want tree-2", id)
	}
	readUntil(t, conn, stream.MessageFrame)

	stopServer(t, cancel, errCh)
}

func TestRunReloadsWatchedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbor.yaml")
	cfg := smallConfig()
	cfg.Server.WatchConfig = true
	writeYAML(t, path, cfg)

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	srv, err := New(loaded, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cancel, errCh := startServer(t, srv)

	cfg.Tree.LeafCount = 60
	deadline := time.Now().Add(10 * time.Second)
	for srv.currentConfig().Tree.LeafCount != 60 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("config change was not picked up")
		}
		writeYAML(t, path, cfg)
		time.Sleep(50 * time.Millisecond)
	}
	for {
		if _, id := srv.current(); id != "tree-1" {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("config change did not restart the session")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopServer(t, cancel, errCh)
}

func writeYAML(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("replace config: %v", err)
	}
}
