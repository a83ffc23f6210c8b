// Package replicastate implements the per-broker ReplicaStateManager
// (spec.md §4.3): the periodic reconciliation loop that learns this
// broker's role from the controller and drives role transitions and
// ISR maintenance. Grounded directly on
// broker/.../hacontroller/ReplicasManager.java.
package replicastate

import (
	"context"
	"fmt"

	rpcx "github.com/smallnest/rpcx/client"

	"github.com/hzh0425/rocketmq/pkg/rpcmodel"
)

// ControllerClient talks to whichever controller address is currently
// believed to be leader, the same rpcx.NewPeer2PeerDiscovery +
// rpcx.NewXClient dial idiom as
// jakub-galecki-raft/config/config.go's Node.Connect().
type ControllerClient struct {
	addresses []string
	clients   map[string]rpcx.XClient
}

func NewControllerClient(addresses []string) *ControllerClient {
	return &ControllerClient{
		addresses: addresses,
		clients:   make(map[string]rpcx.XClient),
	}
}

func (c *ControllerClient) clientFor(addr string) (rpcx.XClient, error) {
	if cl, ok := c.clients[addr]; ok {
		return cl, nil
	}
	d, err := rpcx.NewPeer2PeerDiscovery("tcp@"+addr, "")
	if err != nil {
		return nil, fmt.Errorf("replicastate: discover controller %s: %w", addr, err)
	}
	cl := rpcx.NewXClient("", rpcx.Failover, rpcx.RandomSelect, d, rpcx.DefaultOption)
	c.clients[addr] = cl
	return cl, nil
}

func (c *ControllerClient) Close() {
	for _, cl := range c.clients {
		cl.Close()
	}
}

// Addresses returns the configured controller address list, as given
// at startup (spec.md §6's ";"-separated controllerAddr option).
func (c *ControllerClient) Addresses() []string { return c.addresses }

// GetControllerMetaData polls addr to learn whether it is the leader.
func (c *ControllerClient) GetControllerMetaData(ctx context.Context, addr string) (rpcmodel.GetControllerMetaDataResponse, error) {
	cl, err := c.clientFor(addr)
	if err != nil {
		return rpcmodel.GetControllerMetaDataResponse{}, err
	}
	var resp rpcmodel.GetControllerMetaDataResponse
	err = cl.Call(ctx, "GetControllerMetaData", rpcmodel.GetControllerMetaDataRequest{}, &resp)
	return resp, err
}

func (c *ControllerClient) RegisterBroker(ctx context.Context, leaderAddr string, req rpcmodel.RegisterBrokerRequest) (rpcmodel.RegisterBrokerResponse, error) {
	cl, err := c.clientFor(leaderAddr)
	if err != nil {
		return rpcmodel.RegisterBrokerResponse{}, err
	}
	var resp rpcmodel.RegisterBrokerResponse
	err = cl.Call(ctx, "RegisterBroker", req, &resp)
	return resp, err
}

func (c *ControllerClient) GetReplicaInfo(ctx context.Context, leaderAddr string, req rpcmodel.GetReplicaInfoRequest) (rpcmodel.GetReplicaInfoResponse, error) {
	cl, err := c.clientFor(leaderAddr)
	if err != nil {
		return rpcmodel.GetReplicaInfoResponse{}, err
	}
	var resp rpcmodel.GetReplicaInfoResponse
	err = cl.Call(ctx, "GetReplicaInfo", req, &resp)
	return resp, err
}

func (c *ControllerClient) AlterSyncStateSet(ctx context.Context, leaderAddr string, req rpcmodel.AlterSyncStateSetRequest) (rpcmodel.AlterSyncStateSetResponse, error) {
	cl, err := c.clientFor(leaderAddr)
	if err != nil {
		return rpcmodel.AlterSyncStateSetResponse{}, err
	}
	var resp rpcmodel.AlterSyncStateSetResponse
	err = cl.Call(ctx, "AlterSyncStateSet", req, &resp)
	return resp, err
}

func (c *ControllerClient) ElectMaster(ctx context.Context, leaderAddr string, req rpcmodel.ElectMasterRequest) (rpcmodel.ElectMasterResponse, error) {
	cl, err := c.clientFor(leaderAddr)
	if err != nil {
		return rpcmodel.ElectMasterResponse{}, err
	}
	var resp rpcmodel.ElectMasterResponse
	err = cl.Call(ctx, "ElectMaster", req, &resp)
	return resp, err
}
