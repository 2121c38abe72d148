// Command rudpecho is a minimal chat/echo endpoint built on rudp.Socket,
// exercising Bind, OutboundSender, InboundReceiver, and StartPolling end to
// end. Run two copies pointed at each other to see messages flow:
//
//	rudpecho -listen :9000 -peer :9001
//	rudpecho -listen :9001 -peer :9000
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/relaynet/rudp"
)

func main() {
	listen := flag.String("listen", ":0", "local address to bind")
	peer := flag.String("peer", "", "remote address to exchange messages with")
	configPath := flag.String("config", "", "optional TOML config file (see LoadConfigFile)")
	flag.Parse()

	cfg := rudp.DefaultConfig()
	if *configPath != "" {
		loaded, err := rudp.LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rudpecho: loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	sock, err := rudp.Bind(*listen, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rudpecho: bind: %v\n", err)
		os.Exit(1)
	}
	defer sock.Close()

	var peerAddr net.Addr
	if *peer != "" {
		addr, err := net.ResolveUDPAddr("udp", *peer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rudpecho: resolving peer: %v\n", err)
			os.Exit(1)
		}
		peerAddr = addr
	}

	go func() {
		if err := sock.StartPolling(); err != nil {
			fmt.Fprintf(os.Stderr, "rudpecho: dispatcher stopped: %v\n", err)
		}
	}()

	go func() {
		for ev := range sock.InboundReceiver() {
			switch ev.Kind {
			case rudp.EventConnect:
				fmt.Printf("connected: %s\n", ev.Remote)
			case rudp.EventDisconnect:
				fmt.Printf("disconnected: %s\n", ev.Remote)
			case rudp.EventTimeout:
				fmt.Printf("timed out: %s\n", ev.Remote)
			case rudp.EventMessage:
				fmt.Printf("%s> %s\n", ev.Remote, string(ev.Message.Payload))
			}
		}
	}()

	fmt.Printf("listening on %s, peer %s\n", *listen, *peer)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if peerAddr == nil {
			fmt.Fprintln(os.Stderr, "rudpecho: no -peer configured, nothing to send to")
			continue
		}
		sock.OutboundSender() <- rudp.NewReliableOrdered(peerAddr, scanner.Bytes())
	}
}
