package controller

import (
	"context"
	"log/slog"

	rpcx "github.com/smallnest/rpcx/server"

	"github.com/hzh0425/rocketmq/pkg/rpcmodel"
)

// Server exposes a Registry over rpcx, one plain Go method per RPC —
// the same no-codegen shape as jakub-galecki-raft/handlers.go.
type Server struct {
	registry *Registry
	logger   *slog.Logger
	rpc      *rpcx.Server
}

func NewServer(registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: registry, logger: logger}
}

// ListenAndServe registers the RPC surface and blocks serving on addr.
func (s *Server) ListenAndServe(addr string) error {
	rpcServer := rpcx.NewServer()
	if err := rpcServer.Register(s, ""); err != nil {
		return err
	}
	s.rpc = rpcServer
	s.logger.Info("controller rpc server listening", "addr", addr)
	return rpcServer.Serve("tcp", addr)
}

func (s *Server) Close() error {
	if s.rpc == nil {
		return nil
	}
	return s.rpc.Close()
}

func (s *Server) RegisterBroker(ctx context.Context, req rpcmodel.RegisterBrokerRequest, res *rpcmodel.RegisterBrokerResponse) error {
	resp, err := s.registry.RegisterBroker(req)
	if err != nil {
		return err
	}
	*res = resp
	return nil
}

func (s *Server) GetReplicaInfo(ctx context.Context, req rpcmodel.GetReplicaInfoRequest, res *rpcmodel.GetReplicaInfoResponse) error {
	*res = s.registry.GetReplicaInfo(req, req.BrokerAddress)
	return nil
}

func (s *Server) AlterSyncStateSet(ctx context.Context, req rpcmodel.AlterSyncStateSetRequest, res *rpcmodel.AlterSyncStateSetResponse) error {
	resp, err := s.registry.AlterSyncStateSet(req)
	if err != nil {
		return err
	}
	*res = resp
	return nil
}

func (s *Server) ElectMaster(ctx context.Context, req rpcmodel.ElectMasterRequest, res *rpcmodel.ElectMasterResponse) error {
	resp, err := s.registry.ElectMaster(req)
	if err != nil {
		return err
	}
	*res = resp
	return nil
}

func (s *Server) GetControllerMetaData(ctx context.Context, req rpcmodel.GetControllerMetaDataRequest, res *rpcmodel.GetControllerMetaDataResponse) error {
	res.IsLeader = true
	return nil
}
