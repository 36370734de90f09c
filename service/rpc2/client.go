package rpc2

import (
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/memctl/memctl/service"
	"github.com/memctl/memctl/service/api"
)

// RPCClient is a RPC service.Client.
type RPCClient struct {
	client *rpc.Client
}

// Ensure the implementation satisfies the interface.
var _ service.Client = &RPCClient{}

// NewClient creates a new RPCClient.
func NewClient(addr string) *RPCClient {
	client, err := jsonrpc.Dial("tcp", addr)
	if err != nil {
		log.Fatal("dialing:", err)
	}
	return newFromRPCClient(client)
}

func newFromRPCClient(client *rpc.Client) *RPCClient {
	return &RPCClient{client: client}
}

// NewClientFromConn creates a new RPCClient from the given connection.
func NewClientFromConn(conn net.Conn) *RPCClient {
	return newFromRPCClient(jsonrpc.NewClient(conn))
}

func (c *RPCClient) GetVersion() (*api.GetVersionOut, error) {
	out := new(api.GetVersionOut)
	err := c.call("GetVersion", api.GetVersionIn{}, out)
	return out, err
}

func (c *RPCClient) IsOpen() (bool, error) {
	var out IsOpenOut
	err := c.call("IsOpen", IsOpenIn{}, &out)
	return out.Open, err
}

func (c *RPCClient) State() (*api.State, error) {
	var out StateOut
	err := c.call("State", StateIn{}, &out)
	return out.State, err
}

func (c *RPCClient) ListModules() ([]api.Module, error) {
	var out ListModulesOut
	err := c.call("ListModules", ListModulesIn{}, &out)
	return out.Modules, err
}

func (c *RPCClient) Resolve(loc api.Location) (uint64, []uint64, error) {
	var out ResolveOut
	err := c.call("Resolve", ResolveIn{loc}, &out)
	return out.Addr, out.Hops, err
}

func (c *RPCClient) Read(loc api.Location, kind string, length int, encoding string) (*api.Value, error) {
	var out ReadOut
	err := c.call("Read", ReadIn{loc, kind, length, encoding}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Value, nil
}

func (c *RPCClient) Write(loc api.Location, kind, value, encoding string) error {
	return c.call("Write", WriteIn{loc, kind, value, encoding}, &WriteOut{})
}

func (c *RPCClient) Freeze(loc api.Location, kind, value, encoding string) (bool, error) {
	var out FreezeOut
	err := c.call("Freeze", FreezeIn{loc, kind, value, encoding}, &out)
	return out.Frozen, err
}

func (c *RPCClient) Unfreeze(loc api.Location) (bool, error) {
	var out UnfreezeOut
	err := c.call("Unfreeze", UnfreezeIn{loc}, &out)
	return out.Unfrozen, err
}

func (c *RPCClient) ListFrozen() ([]api.FrozenValue, error) {
	var out ListFrozenOut
	err := c.call("ListFrozen", ListFrozenIn{}, &out)
	return out.Frozen, err
}

func (c *RPCClient) Protect(loc api.Location, size int, protection string) (string, error) {
	var out ProtectOut
	err := c.call("Protect", ProtectIn{loc, size, protection}, &out)
	return out.Old, err
}

func (c *RPCClient) Allocate(size int, protection, allocType string) (uint64, error) {
	var out AllocateOut
	err := c.call("Allocate", AllocateIn{size, protection, allocType}, &out)
	return out.Addr, err
}

func (c *RPCClient) Detach() error {
	defer c.client.Close()
	return c.call("Detach", DetachIn{}, &DetachOut{})
}

func (c *RPCClient) Disconnect() error {
	return c.client.Close()
}

func (c *RPCClient) call(method string, args, reply interface{}) error {
	return c.client.Call("RPCServer."+method, args, reply)
}
