package switchctl

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeSwitch is a minimal line-protocol server standing in for the real
// ESL-style control socket in tests.
type fakeSwitch struct {
	ln       net.Listener
	handlers map[string]string // command prefix -> reply line
}

func newFakeSwitch(t *testing.T) (*fakeSwitch, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fs := &fakeSwitch{ln: ln, handlers: make(map[string]string)}
	go fs.serve()
	t.Cleanup(func() { ln.Close() })
	return fs, ln.Addr().String()
}

func (fs *fakeSwitch) on(prefix, reply string) {
	fs.handlers[prefix] = reply
}

func (fs *fakeSwitch) serve() {
	for {
		conn, err := fs.ln.Accept()
		if err != nil {
			return
		}
		go fs.handleConn(conn)
	}
}

func (fs *fakeSwitch) handleConn(conn net.Conn) {
	defer conn.Close()
	fmt.Fprintf(conn, "Content-Type: auth/request\n")

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "auth ") {
			fmt.Fprintf(conn, "+OK accepted\n")
			continue
		}
		reply := "-ERR command not found"
		for prefix, r := range fs.handlers {
			if strings.HasPrefix(line, prefix) {
				reply = r
				break
			}
		}
		fmt.Fprintf(conn, "%s\n", reply)
	}
}

func dialFake(t *testing.T, fs *fakeSwitch, addr string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), addr, "secret")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialAuthenticates(t *testing.T) {
	fs, addr := newFakeSwitch(t)
	dialFake(t, fs, addr)
}

func TestOriginateReturnsLegUUID(t *testing.T) {
	fs, addr := newFakeSwitch(t)
	fs.on("originate", "+OK b-leg-uuid-123")
	c := dialFake(t, fs, addr)

	legID, err := c.Originate(context.Background(), "1004", 20*time.Second)
	if err != nil {
		t.Fatalf("Originate: %v", err)
	}
	if legID != "b-leg-uuid-123" {
		t.Fatalf("legID = %q, want b-leg-uuid-123", legID)
	}
}

func TestOriginateFailureReturnsError(t *testing.T) {
	fs, addr := newFakeSwitch(t)
	fs.on("originate", "-ERR NO_ANSWER")
	c := dialFake(t, fs, addr)

	_, err := c.Originate(context.Background(), "1004", 20*time.Second)
	if err == nil {
		t.Fatal("expected an error for a failed originate")
	}
}

func TestBridgeSendsCommand(t *testing.T) {
	fs, addr := newFakeSwitch(t)
	fs.on("bridge", "+OK")
	c := dialFake(t, fs, addr)

	if err := c.Bridge(context.Background(), "a-leg", "b-leg"); err != nil {
		t.Fatalf("Bridge: %v", err)
	}
}

func TestProbeRegisteredDestination(t *testing.T) {
	fs, addr := newFakeSwitch(t)
	fs.on("sofia_contact", "+OK sofia/internal/1004@10.0.0.5")
	c := dialFake(t, fs, addr)

	online, err := c.Probe(context.Background(), "tenant-a", "1004")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !online {
		t.Fatal("expected destination to be reported online")
	}
}

func TestProbeUnregisteredDestinationIsNotAnError(t *testing.T) {
	fs, addr := newFakeSwitch(t)
	fs.on("sofia_contact", "-ERR not registered")
	c := dialFake(t, fs, addr)

	online, err := c.Probe(context.Background(), "tenant-a", "1004")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if online {
		t.Fatal("expected destination to be reported offline")
	}
}

func TestHangupSendsUUIDKill(t *testing.T) {
	fs, addr := newFakeSwitch(t)
	fs.on("uuid_kill", "+OK")
	c := dialFake(t, fs, addr)

	if err := c.Hangup(context.Background(), "a-leg", "NORMAL_CLEARING"); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
}
