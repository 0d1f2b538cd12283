package server

import (
	"context"
	"net"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/log"
)

// Server composes the registration directory and the management issuer
// behind a single coap.Handler, the way one LWM2M server UDP socket
// handles both kinds of inbound traffic: registration requests (GET
// /PUT/POST/DELETE-shaped codes) route to the Directory; pushed
// observation content (response-shaped codes arriving unprompted,
// carrying a previously issued token) routes to the Issuer.
type Server struct {
	Directory *Directory
	Issuer    *Issuer
}

// NewServer wires a Directory and an Issuer together: the directory
// cancels the issuer's pending requests to a client the moment that
// client's registration is evicted.
func NewServer(transport coap.Transport, logger log.Logger) *Server {
	issuer := NewIssuer(transport, logger)
	directory := NewDirectory(issuer, logger)
	return &Server{Directory: directory, Issuer: issuer}
}

// Handle implements coap.Handler.
func (s *Server) Handle(ctx context.Context, from net.Addr, req *coap.Message) *coap.Message {
	if req.Code.IsRequest() {
		return s.Directory.Handle(ctx, from, req)
	}
	return s.Issuer.Handle(ctx, from, req)
}
