// Command bleecho is a manual smoke-testing tool for the ble package: it
// either listens for one BLE connection and echoes whatever it receives, or
// dials a listening bleecho and echoes stdin to it.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrElectrify/BlacklightFramework/ble"
	"github.com/MrElectrify/BlacklightFramework/executor"
	"github.com/MrElectrify/BlacklightFramework/transport"
)

func main() {
	listen := flag.String("listen", "", "address to listen on, e.g. :9443 (server mode)")
	dial := flag.String("dial", "", "address to dial, e.g. 127.0.0.1:9443 (client mode)")
	flag.Parse()

	if (*listen == "") == (*dial == "") {
		log.Fatal("bleecho: exactly one of -listen or -dial is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("bleecho: shutting down")
		cancel()
	}()

	exec := executor.New()
	go exec.Run()
	defer exec.Stop()

	if *listen != "" {
		runServer(ctx, *listen, exec)
		return
	}
	runClient(ctx, *dial, exec)
}

func runServer(ctx context.Context, addr string, exec *executor.Executor) {
	acceptor, err := transport.Listen("tcp", addr, exec)
	if err != nil {
		log.Fatalf("bleecho: listen: %v", err)
	}
	defer acceptor.Close()
	log.Printf("bleecho: listening on %s", acceptor.LocalAddr())

	blCtx := ble.NewContext()
	tcp, err := acceptor.Accept()
	if err != nil {
		log.Fatalf("bleecho: accept: %v", err)
	}

	sock := ble.NewSocketFromConn(blCtx, exec, tcp)
	if err := sock.Handshake(); err != nil {
		log.Fatalf("bleecho: handshake: %v", err)
	}
	log.Println("bleecho: handshake complete, echoing")

	defer sock.Stop()
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := sock.ReadSome(buf)
		if err != nil {
			log.Printf("bleecho: read: %v", err)
			return
		}
		if _, err := sock.WriteSome(buf[:n]); err != nil {
			log.Printf("bleecho: write: %v", err)
			return
		}
	}
}

func runClient(ctx context.Context, addr string, exec *executor.Executor) {
	blCtx := ble.NewContext()
	sock := ble.NewSocket(blCtx, exec)
	if err := sock.Connect("tcp", addr); err != nil {
		log.Fatalf("bleecho: connect: %v", err)
	}
	if err := sock.Handshake(); err != nil {
		log.Fatalf("bleecho: handshake: %v", err)
	}
	defer sock.Stop()
	log.Println("bleecho: handshake complete, type lines to echo")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := append(scanner.Bytes(), '\n')
		if _, err := sock.WriteSome(line); err != nil {
			log.Printf("bleecho: write: %v", err)
			return
		}
		buf := make([]byte, len(line))
		if _, err := sock.Read(buf); err != nil {
			log.Printf("bleecho: read: %v", err)
			return
		}
		fmt.Printf("echo: %s", buf)
	}
}
