package cli

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/lfkeitel/stftpu/internal"
	"github.com/lfkeitel/stftpu/internal/storage"
	"github.com/lfkeitel/stftpu/tftp"
)

func TestParsePeer(t *testing.T) {
	tests := []struct {
		peer    string
		want    string
		wantErr bool
	}{
		{peer: "127.0.0.1", want: "127.0.0.1:69"},
		{peer: "127.0.0.1:1069", want: "127.0.0.1:1069"},
		{peer: "[::1]", want: "[::1]:69"},
		{peer: "[::1]:70", want: "[::1]:70"},
		{peer: "", wantErr: true},
		{peer: "127.0.0.1:notaport", wantErr: true},
	}

	for _, test := range tests {
		addr, err := parsePeer(test.peer, internal.DefaultTFTPPort)
		if test.wantErr {
			if err == nil {
				t.Errorf("%q: expected an error, got %s", test.peer, addr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", test.peer, err)
			continue
		}
		if addr.String() != test.want {
			t.Errorf("%q: expected %s, got %s", test.peer, test.want, addr)
		}
	}
}

func TestOperationArgs(t *testing.T) {
	cfg := &internal.ClientConfig{Port: 1069, Mode: "netascii"}

	data, err := operationArgs(tftp.OperationSend, []string{"127.0.0.1", "local.txt"}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if data.Peer.Port != 1069 || data.RemoteName != "local.txt" || data.Mode != "netascii" {
		t.Errorf("config defaults not applied: %+v", data)
	}

	data, err = operationArgs(tftp.OperationReceive, []string{"127.0.0.1:69", "a", "b", "octet"}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if data.Peer.Port != 69 || data.RemoteName != "b" || data.Mode != "octet" {
		t.Errorf("arguments not applied: %+v", data)
	}

	if _, err := operationArgs(tftp.OperationSend, []string{"127.0.0.1", "a", "b", "mail"}, cfg); err == nil {
		t.Error("expected mail mode to be rejected")
	}
}

func startTestServer(t *testing.T, root string) *net.UDPAddr {
	t.Helper()
	store, err := storage.NewDir(root)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tftp.NewServer(store).Serve(ctx, conn)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return conn.LocalAddr().(*net.UDPAddr)
}

func TestReceiveFile(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "remote.bin"), []byte("payload"), 0o644)
	addr := startTestServer(t, root)

	dir := t.TempDir()
	local := filepath.Join(dir, "local.bin")
	data, err := tftp.NewOperationData(tftp.OperationReceive, addr, local, "remote.bin", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := receiveFile(context.Background(), tftp.NewClient(), data); err != nil {
		t.Fatalf("receive: %v", err)
	}
	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Errorf("expected payload, got %q", got)
	}
}

func TestReceiveFileFailureLeavesNothing(t *testing.T) {
	addr := startTestServer(t, t.TempDir())

	dir := t.TempDir()
	local := filepath.Join(dir, "local.bin")
	data, err := tftp.NewOperationData(tftp.OperationReceive, addr, local, "missing", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := receiveFile(context.Background(), tftp.NewClient(), data); err == nil {
		t.Fatal("expected an error")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("failed receive left files behind: %v", entries)
	}
}
