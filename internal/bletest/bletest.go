// Package bletest provides an in-process loopback harness for exercising
// the ble package end-to-end, standing in for the original library's
// interactive test bench.
package bletest

import (
	"github.com/MrElectrify/BlacklightFramework/ble"
	"github.com/MrElectrify/BlacklightFramework/executor"
	"github.com/MrElectrify/BlacklightFramework/rsacrypto"
	"github.com/MrElectrify/BlacklightFramework/transport"
)

// Pair is a connected, handshaken client/server socket pair over loopback.
type Pair struct {
	Client *ble.Socket
	Server *ble.Socket

	ClientExec *executor.Executor
	ServerExec *executor.Executor

	acceptor *transport.Acceptor
}

// Option customizes Dial.
type Option func(*options)

type options struct {
	serverCtx *ble.Context
	clientCtx *ble.Context
	clientPin *rsacrypto.PublicKey
}

// WithServerContext supplies the Context the server handshakes under,
// letting callers pre-load a fixed keypair instead of paying keygen.
func WithServerContext(ctx *ble.Context) Option {
	return func(o *options) { o.serverCtx = ctx }
}

// WithClientPin pins pub on the client's Context before handshaking.
func WithClientPin(pub *rsacrypto.PublicKey) Option {
	return func(o *options) { o.clientPin = pub }
}

// Dial stands up a loopback listener, connects a client, and runs the
// handshake on both ends, returning the connected pair. If the handshake
// fails on either side, that side's socket is stopped so the peer's pending
// read ends, and Dial returns the pair together with the error (the
// client's, if both failed). Both executors are left running so the caller
// can inspect partial state; call Close regardless.
func Dial(opts ...Option) (*Pair, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	serverExec := executor.New()
	clientExec := executor.New()
	go serverExec.Run()
	go clientExec.Run()

	serverCtx := o.serverCtx
	if serverCtx == nil {
		serverCtx = ble.NewContext()
	}
	clientCtx := ble.NewContext()
	if o.clientPin != nil {
		clientCtx.PinKey(o.clientPin)
	}

	acceptor, err := transport.Listen("tcp", "127.0.0.1:0", serverExec)
	if err != nil {
		return nil, err
	}

	type acceptResult struct {
		tcp *transport.TCPSocket
		err error
	}
	accepted := make(chan acceptResult, 1)
	acceptor.AsyncAccept(func(sock *transport.TCPSocket, err error) {
		accepted <- acceptResult{sock, err}
	})

	client := ble.NewSocket(clientCtx, clientExec)
	if err := client.Connect("tcp", acceptor.LocalAddr().String()); err != nil {
		acceptor.Close()
		return nil, err
	}

	res := <-accepted
	if res.err != nil {
		acceptor.Close()
		return nil, res.err
	}

	server := ble.NewSocketFromConn(serverCtx, serverExec, res.tcp)

	serverDone := make(chan error, 1)
	go func() {
		err := server.Handshake()
		if err != nil {
			server.Stop()
		}
		serverDone <- err
	}()

	clientErr := client.Handshake()
	if clientErr != nil {
		client.Stop()
	}
	serverErr := <-serverDone

	pair := &Pair{
		Client:     client,
		Server:     server,
		ClientExec: clientExec,
		ServerExec: serverExec,
		acceptor:   acceptor,
	}

	if clientErr != nil {
		return pair, clientErr
	}
	if serverErr != nil {
		return pair, serverErr
	}
	return pair, nil
}

// Close tears down both sockets, the listener, and both executors.
func (p *Pair) Close() {
	p.Client.Stop()
	p.Server.Stop()
	p.acceptor.Close()
	p.ClientExec.Stop()
	p.ServerExec.Stop()
}
