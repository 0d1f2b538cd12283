package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/lwm2m-go/lwm2m/pkg/client"
	"github.com/lwm2m-go/lwm2m/pkg/objectregistry"
)

// Shell handles interactive inspection of a running endpoint from the
// device side: listing the registry's live objects and reading a
// resource's current value locally, without going through the wire.
type Shell struct {
	endpoint *client.Endpoint
	registry *objectregistry.Registry
	rl       *readline.Instance
}

// NewShell builds an interactive shell over endpoint/registry.
func NewShell(endpoint *client.Endpoint, registry *objectregistry.Registry) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lwm2m-client> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{endpoint: endpoint, registry: registry, rl: rl}, nil
}

// Run starts the interactive command loop. It returns when the user
// quits or the readline stream ends; cancel then unwinds the caller's
// registration and listener goroutines.
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
		case "status":
			s.cmdStatus()
		case "objects":
			s.cmdObjects()
		case "read", "r":
			s.cmdRead(args)
		case "update":
			s.cmdUpdate(ctx)
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
lwm2m-client commands:
  status              - Show registration state and location
  objects             - List registered objects and instances
  read <O>/<I>/<R>    - Read one resource's current value
  update              - Force an immediate registration Update
  help                - Show this help
  quit                - Exit`)
}

func (s *Shell) cmdStatus() {
	fmt.Fprintf(s.rl.Stdout(), "state: %s  location: %s\n", s.endpoint.State(), s.endpoint.Location())
}

func (s *Shell) cmdObjects() {
	for _, objectID := range s.registry.ObjectIDs() {
		instanceIDs, _ := s.registry.InstanceIDs(objectID)
		fmt.Fprintf(s.rl.Stdout(), "object %d: instances %v\n", objectID, instanceIDs)
	}
}

func (s *Shell) cmdRead(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "usage: read <objectID>/<instanceID>/<resourceID>")
		return
	}
	objectID, instanceID, resourceID, err := parseTriple(args[0])
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "invalid path: %v\n", err)
		return
	}
	descriptor, ok := s.registry.Descriptor(objectID)
	if !ok || descriptor.OnRead == nil {
		fmt.Fprintln(s.rl.Stdout(), "no such object, or object does not support Read")
		return
	}
	value, err := descriptor.OnRead(instanceID, resourceID, s.registry.UserData())
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "read error: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "%v\n", value)
}

func (s *Shell) cmdUpdate(ctx context.Context) {
	if err := s.endpoint.Update(ctx); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "update failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), "update sent")
}

func parseTriple(s string) (objectID, instanceID, resourceID uint16, err error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("expected O/I/R, got %q", s)
	}
	ids := make([]uint16, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("segment %q: %w", p, err)
		}
		ids[i] = uint16(n)
	}
	return ids[0], ids[1], ids[2], nil
}
