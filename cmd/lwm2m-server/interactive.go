package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/resource"
	"github.com/lwm2m-go/lwm2m/pkg/server"
	"github.com/lwm2m-go/lwm2m/pkg/tlv"
)

// Shell drives the management issuer by hand against whichever
// registered client the operator names by its directory location.
type Shell struct {
	srv *server.Server
	rl  *readline.Instance
}

// NewShell builds an interactive shell over srv.
func NewShell(srv *server.Server) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lwm2m-server> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{srv: srv, rl: rl}, nil
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()
		case "clients":
			s.cmdClients()
		case "read", "r":
			s.cmdRead(ctx, args)
		case "write", "w":
			s.cmdWrite(ctx, args)
		case "execute", "x":
			s.cmdExecute(ctx, args)
		case "observe", "o":
			s.cmdObserve(ctx, args)
		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
lwm2m-server commands:
  clients                        - list registered clients
  read <location> <path>        - Read a resource
  write <loc> <O>/<I> <R>=<val> - Write one resource (whole-instance TLV PUT)
  execute <location> <path>     - Execute a resource
  observe <location> <path>     - Observe a resource
  help                          - Show this help
  quit                          - Exit`)
}

func (s *Shell) cmdClients() {
	clients := s.srv.Directory.Clients()
	if len(clients) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "no registered clients")
		return
	}
	for _, c := range clients {
		fmt.Fprintf(s.rl.Stdout(), "%s  endpoint=%s addr=%s lifetime=%s\n", c.Location, c.Name, c.Addr, c.Lifetime)
	}
}

func (s *Shell) resolveAddr(location string) (string, bool) {
	info, ok := s.srv.Directory.Lookup(location)
	if !ok {
		fmt.Fprintf(s.rl.Stdout(), "no such client: %s\n", location)
		return "", false
	}
	return info.Addr, true
}

func (s *Shell) cmdRead(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.rl.Stdout(), "usage: read <location> <path>")
		return
	}
	addr, ok := s.resolveAddr(args[0])
	if !ok {
		return
	}
	s.srv.Issuer.Read(ctx, addr, args[1], s.printReply)
}

// cmdWrite issues a whole-instance TLV write (the only write shape the
// issuer exposes, per LWM2M's PUT semantics): the target is an instance
// path, the value a single "<resourceID>=<string>" pair to replace.
func (s *Shell) cmdWrite(ctx context.Context, args []string) {
	if len(args) != 3 {
		fmt.Fprintln(s.rl.Stdout(), "usage: write <location> <objectID>/<instanceID> <resourceID>=<value>")
		return
	}
	addr, ok := s.resolveAddr(args[0])
	if !ok {
		return
	}
	resourceID, value, ok := strings.Cut(args[2], "=")
	if !ok {
		fmt.Fprintln(s.rl.Stdout(), "value must be <resourceID>=<value>")
		return
	}
	id, err := strconv.ParseUint(resourceID, 10, 16)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "invalid resource id: %v\n", err)
		return
	}
	res, err := resource.New(uint16(id), value)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "encode error: %v\n", err)
		return
	}
	rec, err := tlv.EncodeResource(res)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "encode error: %v\n", err)
		return
	}
	payload := tlv.Marshal([]tlv.Record{rec})
	s.srv.Issuer.Write(ctx, addr, args[1], payload, s.printReply)
}

func (s *Shell) cmdExecute(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.rl.Stdout(), "usage: execute <location> <path>")
		return
	}
	addr, ok := s.resolveAddr(args[0])
	if !ok {
		return
	}
	s.srv.Issuer.Execute(ctx, addr, args[1], nil, s.printReply)
}

func (s *Shell) cmdObserve(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.rl.Stdout(), "usage: observe <location> <path>")
		return
	}
	addr, ok := s.resolveAddr(args[0])
	if !ok {
		return
	}
	s.srv.Issuer.Observe(ctx, addr, args[1], s.printReply)
	fmt.Fprintln(s.rl.Stdout(), "observation registered, notifications will print as they arrive")
}

func (s *Shell) printReply(resp *coap.Message, err error) {
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "error: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "reply: %s\n", resp.Payload)
}
