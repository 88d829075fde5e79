package netutil

import (
	"net"
	"testing"
)

func TestSelectBindAddrPreferredFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	got, err := SelectBindAddr(addr, nil, false)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	if got != addr {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, addr)
	}
}

func TestSelectBindAddrFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	free, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen free: %v", err)
	}
	freeAddr := free.Addr().String()
	_ = free.Close()

	got, err := SelectBindAddr(busy.Addr().String(), []string{busy.Addr().String(), freeAddr}, true)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	if got != freeAddr {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, freeAddr)
	}
}

func TestSelectBindAddrNoFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	if _, err := SelectBindAddr(busy.Addr().String(), nil, false); err == nil {
		t.Fatalf("SelectBindAddr() = nil error; want in-use error")
	}
}

func TestNextPorts(t *testing.T) {
	got, err := NextPorts("127.0.0.1:8190", 3)
	if err != nil {
		t.Fatalf("NextPorts() error = %v", err)
	}
	want := []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}
	if len(got) != len(want) {
		t.Fatalf("NextPorts() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NextPorts()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got, _ := NextPorts("127.0.0.1:65535", 3); len(got) != 0 {
		t.Fatalf("NextPorts(65535) = %v, want none", got)
	}
	if _, err := NextPorts("no-port", 1); err == nil {
		t.Fatalf("NextPorts(no-port) = nil error; want error")
	}
}
