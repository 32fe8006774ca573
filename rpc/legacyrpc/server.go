// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package legacyrpc

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/rbfwallet/wallet"
)

const (
	// rpcAuthTimeout bounds how long a client may take to send its
	// request headers and body.
	rpcAuthTimeout = 10 * time.Second

	// maxRequestSize is the largest request body read from a client.
	maxRequestSize = 4 * 1024 * 1024
)

var (
	// ErrNoAuth is returned when a request carries no HTTP basic auth
	// credentials.
	ErrNoAuth = errors.New("no auth")

	// errBadAuth is returned for credentials that do not match.
	errBadAuth = errors.New("bad auth")
)

// sensitiveMethods are the methods whose parameters must never reach a log
// file.
var sensitiveMethods = map[string]struct{}{
	"sweepprivkeys": {},
}

// Server serves the wallet's JSON-RPC methods over HTTP POST.
type Server struct {
	httpServer http.Server
	listeners  []net.Listener

	// credsHash is the hash of "user:pass", compared in constant time
	// against the hash of the credentials a client presents.
	credsHash [sha256.Size]byte

	handlerMu sync.Mutex
	wallet    rpcWallet

	wg       sync.WaitGroup
	stopOnce sync.Once

	requestShutdownChan chan struct{}
}

// NewServer creates a server answering authenticated POST requests on every
// listener. Wallet methods fail until RegisterWallet is called.
func NewServer(opts *Options, listeners []net.Listener) *Server {
	s := &Server{
		listeners:           listeners,
		credsHash:           hashCredentials(opts.Username, opts.Password),
		requestShutdownChan: make(chan struct{}, 1),
	}

	s.httpServer = http.Server{
		Handler:     throttledFn(opts.MaxPOSTClients, s.serveHTTP),
		ReadTimeout: rpcAuthTimeout,
	}

	for _, lis := range listeners {
		s.wg.Add(1)
		go func(lis net.Listener) {
			defer s.wg.Done()

			log.Infof("Listening on %s", lis.Addr())
			err := s.httpServer.Serve(lis)
			log.Tracef("Finished serving RPC on %s: %v", lis.Addr(),
				err)
		}(lis)
	}

	return s
}

func hashCredentials(user, pass string) [sha256.Size]byte {
	return sha256.Sum256([]byte(user + ":" + pass))
}

// serveHTTP authenticates the client and hands the request to
// PostClientRPC.
func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")
	w.Header().Set("Content-Type", "application/json")
	r.Close = true

	if err := s.checkAuth(r); err != nil {
		log.Warnf("Unauthorized client connection attempt from %s: %v",
			r.RemoteAddr, err)

		w.Header().Add("WWW-Authenticate", `Basic realm="rbfwallet RPC"`)
		http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	s.PostClientRPC(w, r)
}

// checkAuth verifies the HTTP basic auth credentials of the request in
// constant time.
func (s *Server) checkAuth(r *http.Request) error {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return ErrNoAuth
	}

	got := hashCredentials(user, pass)
	if subtle.ConstantTimeCompare(got[:], s.credsHash[:]) != 1 {
		return errBadAuth
	}

	return nil
}

// RegisterWallet makes the wallet methods available to clients.
func (s *Server) RegisterWallet(w *wallet.Wallet) {
	s.registerWallet(w)
}

func (s *Server) registerWallet(w rpcWallet) {
	s.handlerMu.Lock()
	s.wallet = w
	s.handlerMu.Unlock()
}

// Stop closes every listener and blocks until in-flight requests have been
// answered. The registered wallet belongs to the caller and keeps running.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		for _, lis := range s.listeners {
			if err := lis.Close(); err != nil {
				log.Errorf("Cannot close listener `%s`: %v",
					lis.Addr(), err)
			}
		}

		s.wg.Wait()
	})
}

// handlerClosure binds the request to the wallet registered at the time of
// the call.
func (s *Server) handlerClosure(request *btcjson.Request) lazyHandler {
	s.handlerMu.Lock()
	w := s.wallet
	s.handlerMu.Unlock()

	return lazyApplyHandler(request, w)
}

// throttledFn limits the handler to threshold concurrent clients and answers
// any client above the limit with HTTP 429.
func throttledFn(threshold int64, f http.HandlerFunc) http.Handler {
	slots := make(chan struct{}, threshold)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()

		default:
			log.Warnf("Reached threshold of %d concurrent active "+
				"clients", threshold)
			http.Error(w, "429 Too Many Requests",
				http.StatusTooManyRequests)
			return
		}

		f(w, r)
	})
}

// sanitizeRequest renders the request for logging with the parameters of
// sensitive methods left out.
func sanitizeRequest(r *btcjson.Request) string {
	if _, ok := sensitiveMethods[r.Method]; ok {
		return fmt.Sprintf(`{"id":%v,"method":"%s","params":SANITIZED `+
			`%d parameters}`, r.ID, r.Method, len(r.Params))
	}

	params := make([]string, 0, len(r.Params))
	for _, p := range r.Params {
		params = append(params, string(p))
	}

	return fmt.Sprintf(`{"id":%v,"method":"%s","params":%v}`, r.ID,
		r.Method, params)
}

// writeResponse marshals and sends a JSON-RPC reply.
func writeResponse(w http.ResponseWriter, version btcjson.RPCVersion,
	id interface{}, result interface{}, rpcErr *btcjson.RPCError) {

	resp, err := btcjson.MarshalResponse(version, id, result, rpcErr)
	if err != nil {
		log.Errorf("Unable to marshal response: %v", err)
		http.Error(w, "500 Internal Server Error",
			http.StatusInternalServerError)
		return
	}

	if _, err := w.Write(resp); err != nil {
		log.Warnf("Unable to respond to client: %v", err)
	}
}

// PostClientRPC processes and replies to a JSON-RPC client request. The stop
// method is answered here since it concerns the process rather than the
// wallet, and shutdown is requested only after the reply is written.
func (s *Server) PostClientRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err != nil {
		http.Error(w, "413 Request Too Large.",
			http.StatusRequestEntityTooLarge)
		return
	}

	var req btcjson.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, btcjson.RpcVersion1, nil, nil,
			btcjson.ErrRPCInvalidRequest)
		return
	}

	log.Debugf("Received request %s", sanitizeRequest(&req))

	version := req.Jsonrpc
	if version == "" {
		version = btcjson.RpcVersion1
	}

	if req.Method == "stop" {
		writeResponse(w, version, req.ID, "rbfwallet stopping.", nil)
		s.requestProcessShutdown()
		return
	}

	res, jsonErr := s.handlerClosure(&req)()
	writeResponse(w, version, req.ID, res, jsonErr)
}

func (s *Server) requestProcessShutdown() {
	select {
	case s.requestShutdownChan <- struct{}{}:
	default:
	}
}

// RequestProcessShutdown returns a channel that is sent to when an authorized
// client requests remote shutdown.
func (s *Server) RequestProcessShutdown() <-chan struct{} {
	return s.requestShutdownChan
}
