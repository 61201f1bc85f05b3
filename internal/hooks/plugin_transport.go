// Optional out-of-process hook handler transport: a hook handler may be a
// subprocess speaking hashicorp/go-plugin's classic net/rpc wire protocol,
// so external tooling can observe (and veto) hook firings without linking
// against this module.
//
// The host side spawns the subprocess, performs the go-plugin handshake,
// and dispenses exactly one capability: handling a hook event. There is no
// general plugin lifecycle here; this is solely the wire transport for
// hook bus publication.
package hooks

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"
)

// PluginHandshake identifies the mcjab hook-plugin protocol to go-plugin's
// handshake cookie exchange.
var PluginHandshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MCJAB_HOOK_PLUGIN",
	MagicCookieValue: "mcjab-hook",
}

// HookRPC is the net/rpc-visible surface a hook plugin subprocess exposes.
type HookRPC interface {
	HandleHook(args HookArgs, reply *HookReply) error
}

// HookArgs is the RPC request for one hook firing.
type HookArgs struct {
	Name  string
	Event map[string]string
}

// HookReply is the RPC response: Stop mirrors this package's Result.
type HookReply struct {
	Stop bool
}

// hookPluginImpl adapts a net/rpc client connection to go-plugin's Plugin
// interface. The net/rpc variant needs no generated stubs, unlike gRPC.
type hookPluginImpl struct {
	Impl HookRPC
}

func (p *hookPluginImpl) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &hookRPCServer{impl: p.Impl}, nil
}

func (p *hookPluginImpl) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &hookRPCClient{client: c}, nil
}

type hookRPCServer struct {
	impl HookRPC
}

func (s *hookRPCServer) HandleHook(args HookArgs, reply *HookReply) error {
	return s.impl.HandleHook(args, reply)
}

type hookRPCClient struct {
	client *rpc.Client
}

func (c *hookRPCClient) HandleHook(args HookArgs, reply *HookReply) error {
	return c.client.Call("Plugin.HandleHook", args, reply)
}

// PluginMap is the go-plugin type map for a single "hook" plugin kind.
var PluginMap = map[string]goplugin.Plugin{
	"hook": &hookPluginImpl{},
}

// PluginHandler dispatches hook events to one external subprocess,
// implementing Handler so it can be registered on a Bus like any in-process
// handler.
type PluginHandler struct {
	mu     sync.Mutex
	path   string
	client *goplugin.Client
	rpcImp *hookRPCClient
}

// NewPluginHandler returns a handler for the hook-plugin executable at path.
// The subprocess is not started until the first Handle call (lazy, so a misconfigured plugin
// path doesn't block startup).
func NewPluginHandler(path string) *PluginHandler {
	return &PluginHandler{path: path}
}

func (h *PluginHandler) ensureStarted() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rpcImp != nil {
		return nil
	}
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: PluginHandshake,
		Plugins:         PluginMap,
		Cmd:             exec.Command(h.path),
		AllowedProtocols: []goplugin.Protocol{
			goplugin.ProtocolNetRPC,
		},
		// A hook plugin misbehaving should not spam the terminal this
		// core owns; only surface warnings and above.
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:  "hook-plugin",
			Level: hclog.Warn,
		}),
	})
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("hooks: start plugin %s: %w", h.path, err)
	}
	raw, err := rpcClient.Dispense("hook")
	if err != nil {
		client.Kill()
		return fmt.Errorf("hooks: dispense plugin %s: %w", h.path, err)
	}
	h.client = client
	h.rpcImp = raw.(*hookRPCClient)
	return nil
}

// Handle implements Handler by forwarding the event to the subprocess.
func (h *PluginHandler) Handle(_ context.Context, name Name, event map[string]string) Result {
	if err := h.ensureStarted(); err != nil {
		return Continue
	}
	var reply HookReply
	if err := h.rpcImp.HandleHook(HookArgs{Name: string(name), Event: event}, &reply); err != nil {
		return Continue
	}
	if reply.Stop {
		return Stop
	}
	return Continue
}

// Close terminates the subprocess, if started.
func (h *PluginHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		h.client.Kill()
		h.client = nil
		h.rpcImp = nil
	}
}
