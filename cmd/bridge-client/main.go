// cmd/bridge-client/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"portenta-bridge/internal/pager"
	"portenta-bridge/internal/protocol"
	"portenta-bridge/internal/registry"
)

var ops = map[string]byte{
	"set":  protocol.OpSet,
	"add":  protocol.OpAdd,
	"mult": protocol.OpMultiply,
	"get":  protocol.OpGet,
}

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:17751", "Bridge UDP address")
		keyTag  = flag.String("key", protocol.DefaultKeyTag, "8-character signing tag")
		op      = flag.String("op", "get", "set | add | mult | get | config | listen")
		name    = flag.String("signal", registry.Version, "Signal name")
		value   = flag.Float64("value", 0, "Operand for set/add/mult")
		wait    = flag.Duration("wait", 2*time.Second, "How long to wait for replies")
		verbose = flag.Bool("v", false, "Print log datagrams from the bridge")
	)
	flag.Parse()

	key, err := protocol.NewKey(*keyTag)
	if err != nil {
		log.Fatalf("key: %v", err)
	}
	raddr, err := net.ResolveUDPAddr("udp", *addr)
	if err != nil {
		log.Fatalf("resolve %s: %v", *addr, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *op {
	case "config":
		err = fetchConfig(ctx, conn, raddr, key, *wait)
	case "listen":
		// любой пакет регистрирует нас как получателя рассылки
		err = send(conn, raddr, protocol.NewValueFrame(protocol.NewTxID(), protocol.VersionID, protocol.OpGet, 0).Encode(key))
		if err == nil {
			err = listen(ctx, conn, key, 0, *verbose)
		}
	default:
		err = command(ctx, conn, raddr, key, *op, *name, *value, *wait, *verbose)
	}
	if err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

func send(conn *net.UDPConn, to *net.UDPAddr, b []byte) error {
	_, err := conn.WriteToUDP(b, to)
	return err
}

func command(ctx context.Context, conn *net.UDPConn, to *net.UDPAddr, key protocol.Key, op, name string, v float64, wait time.Duration, verbose bool) error {
	typ, ok := ops[op]
	if !ok {
		return fmt.Errorf("unknown op %q", op)
	}
	d, ok := registry.ByName(name)
	if !ok {
		return fmt.Errorf("unknown signal %q", name)
	}
	f := protocol.NewValueFrame(protocol.NewTxID(), d.ID, typ, v)
	log.Printf("-> %s %s", name, f)
	if err := send(conn, to, f.Encode(key)); err != nil {
		return err
	}
	return listen(ctx, conn, key, wait, verbose)
}

// listen prints frames until wait elapses; wait 0 means until ctx is done.
func listen(ctx context.Context, conn *net.UDPConn, key protocol.Key, wait time.Duration, verbose bool) error {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}
	buf := make([]byte, 8192)
	for {
		if ctx.Err() != nil {
			return nil
		}
		next := time.Now().Add(250 * time.Millisecond)
		if !deadline.IsZero() {
			if !time.Now().Before(deadline) {
				return nil
			}
			if deadline.Before(next) {
				next = deadline
			}
		}
		_ = conn.SetReadDeadline(next)
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		printPacket(key, buf[:n], verbose)
	}
}

func printPacket(key protocol.Key, b []byte, verbose bool) {
	if len(b) == protocol.FrameSize {
		f, err := protocol.DecodeFrame(key, b)
		if err != nil {
			log.Printf("<- invalid frame: %v", err)
			return
		}
		name := fmt.Sprintf("0x%02X", f.SignalID)
		if d, ok := registry.ByID(f.SignalID); ok {
			name = d.Name
		}
		if f.SignalID == protocol.VersionID {
			log.Printf("<- %s type=0x%02X %s", name, f.Type, registry.VersionString(f.Uint32()))
			return
		}
		log.Printf("<- %s type=0x%02X value=%g", name, f.Type, f.Value())
		return
	}

	var msg struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &msg) == nil && msg.Type == "log" {
		if verbose {
			log.Printf("<- log: %s", strings.TrimSpace(msg.Message))
		}
		return
	}
	if m, err := protocol.DecodeEnvelope(key, b); err == nil {
		log.Printf("<- envelope 0x%02X %+v", m.Command(), m)
	}
}

func fetchConfig(ctx context.Context, conn *net.UDPConn, to *net.UDPAddr, key protocol.Key, wait time.Duration) error {
	if err := send(conn, to, protocol.ConfigRequest().Encode(key)); err != nil {
		return err
	}
	doc, err := pager.Receive(ctx, conn, key, wait)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var pretty any
	if err := json.Unmarshal([]byte(doc), &pretty); err != nil {
		fmt.Println(doc)
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}
