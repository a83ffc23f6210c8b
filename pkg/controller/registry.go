package controller

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hzh0425/rocketmq/pkg/rpcmodel"
)

// Registry is the controller-side state machine for replica metadata
// (spec.md §4.4). Request handlers are pure functions of (snapshot,
// request); applyEvent is the only writer, invoked after the event has
// been appended to the durable eventLog — the event/apply split the
// spec calls for.
type Registry struct {
	mu       sync.RWMutex
	replicas map[string]*ReplicaInfo
	log      *eventLog
	logger   *slog.Logger
}

// Open builds a Registry backed by the event log at path, replaying it
// to rebuild in-memory state.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l, events, err := openEventLog(path)
	if err != nil {
		return nil, err
	}
	table := make(map[string]*ReplicaInfo)
	for _, ev := range events {
		applyEvent(table, ev)
	}
	logger.Info("controller registry replayed event log", "events", len(events), "brokers", len(table))
	return &Registry{replicas: table, log: l, logger: logger}, nil
}

func (r *Registry) Close() error {
	return r.log.Close()
}

func (r *Registry) commit(events []EventMessage) error {
	for _, ev := range events {
		if err := r.log.append(ev); err != nil {
			return fmt.Errorf("controller: commit event: %w", err)
		}
		applyEvent(r.replicas, ev)
	}
	return nil
}

// RegisterBroker implements spec.md §4.4's registerBroker semantics.
func (r *Registry) RegisterBroker(req rpcmodel.RegisterBrokerRequest) (rpcmodel.RegisterBrokerResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.replicas[req.BrokerName]
	events, resp := handleRegisterBroker(existing, req)
	if err := r.commit(events); err != nil {
		return rpcmodel.RegisterBrokerResponse{}, err
	}
	return resp, nil
}

func handleRegisterBroker(existing *ReplicaInfo, req rpcmodel.RegisterBrokerRequest) ([]EventMessage, rpcmodel.RegisterBrokerResponse) {
	if existing == nil {
		events := []EventMessage{
			{Type: EventBrokerRegister, ClusterName: req.ClusterName, BrokerName: req.BrokerName, Address: req.BrokerAddress, BrokerId: 1},
			{Type: EventElectMaster, BrokerName: req.BrokerName, Address: req.BrokerAddress, MasterEpoch: 1, SyncStateSet: []string{req.BrokerAddress}, SyncStateSetEpoch: 1, NewMasterElected: true},
		}
		return events, rpcmodel.RegisterBrokerResponse{BrokerId: 1, MasterAddress: "", MasterEpoch: 0, SyncStateSetEpoch: 0}
	}

	if id, ok := existing.ReplicaSet[req.BrokerAddress]; ok {
		return nil, rpcmodel.RegisterBrokerResponse{
			BrokerId:          id,
			MasterAddress:     existing.MasterAddress,
			MasterEpoch:       existing.MasterEpoch,
			SyncStateSetEpoch: existing.SyncStateSetEpoch,
		}
	}

	newID := existing.NextBrokerId
	events := []EventMessage{
		{Type: EventBrokerRegister, ClusterName: req.ClusterName, BrokerName: req.BrokerName, Address: req.BrokerAddress, BrokerId: newID},
	}
	return events, rpcmodel.RegisterBrokerResponse{
		BrokerId:          newID,
		MasterAddress:     existing.MasterAddress,
		MasterEpoch:       existing.MasterEpoch,
		SyncStateSetEpoch: existing.SyncStateSetEpoch,
	}
}

// GetReplicaInfo implements spec.md §4.4's read-only getReplicaInfo.
func (r *Registry) GetReplicaInfo(req rpcmodel.GetReplicaInfoRequest, requester string) rpcmodel.GetReplicaInfoResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.replicas[req.BrokerName]
	if !ok {
		return rpcmodel.GetReplicaInfoResponse{ErrorCode: rpcmodel.ErrorBrokerNotExist}
	}

	brokerID := int64(-1)
	if id, known := info.ReplicaSet[requester]; known {
		brokerID = id
	}
	return rpcmodel.GetReplicaInfoResponse{
		MasterAddress: info.MasterAddress,
		MasterEpoch:   info.MasterEpoch,
		BrokerId:      brokerID,
		ErrorCode:     rpcmodel.ErrorNone,
		SyncStateSet: rpcmodel.SyncStateSet{
			SyncStateSet:      info.syncStateSetSlice(),
			SyncStateSetEpoch: info.SyncStateSetEpoch,
		},
	}
}

// AlterSyncStateSet implements spec.md §4.4's acceptance rules for ISR changes.
func (r *Registry) AlterSyncStateSet(req rpcmodel.AlterSyncStateSetRequest) (rpcmodel.AlterSyncStateSetResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.replicas[req.BrokerName]
	if !ok {
		return rpcmodel.AlterSyncStateSetResponse{ErrorCode: rpcmodel.ErrorBrokerNotExist}, nil
	}

	events, resp, code := handleAlterSyncStateSet(info, req)
	if code != rpcmodel.ErrorNone {
		return rpcmodel.AlterSyncStateSetResponse{ErrorCode: code}, nil
	}
	if err := r.commit(events); err != nil {
		return rpcmodel.AlterSyncStateSetResponse{}, err
	}
	return resp, nil
}

func handleAlterSyncStateSet(info *ReplicaInfo, req rpcmodel.AlterSyncStateSetRequest) ([]EventMessage, rpcmodel.AlterSyncStateSetResponse, rpcmodel.ErrorCode) {
	if req.MasterAddress != info.MasterAddress {
		return nil, rpcmodel.AlterSyncStateSetResponse{}, rpcmodel.ErrorNotMaster
	}
	if req.MasterEpoch != info.MasterEpoch {
		return nil, rpcmodel.AlterSyncStateSetResponse{}, rpcmodel.ErrorStaleMasterEpoch
	}
	if req.SyncStateSetEpoch != info.SyncStateSetEpoch {
		return nil, rpcmodel.AlterSyncStateSetResponse{}, rpcmodel.ErrorStaleSyncStateSetEpoch
	}

	masterInSet := false
	for _, addr := range req.NewSyncStateSet {
		if addr == req.MasterAddress {
			masterInSet = true
		}
		if _, known := info.ReplicaSet[addr]; !known && addr != req.MasterAddress {
			return nil, rpcmodel.AlterSyncStateSetResponse{}, rpcmodel.ErrorInvalidSyncStateSet
		}
	}
	if !masterInSet {
		return nil, rpcmodel.AlterSyncStateSetResponse{}, rpcmodel.ErrorInvalidSyncStateSet
	}

	newEpoch := info.SyncStateSetEpoch + 1
	events := []EventMessage{
		{Type: EventAlterSyncStateSet, BrokerName: info.BrokerName, SyncStateSet: req.NewSyncStateSet, SyncStateSetEpoch: newEpoch},
	}
	resp := rpcmodel.AlterSyncStateSetResponse{
		ErrorCode: rpcmodel.ErrorNone,
		SyncStateSet: rpcmodel.SyncStateSet{
			SyncStateSet:      req.NewSyncStateSet,
			SyncStateSetEpoch: newEpoch,
		},
	}
	return events, resp, rpcmodel.ErrorNone
}

// ElectMaster implements spec.md §4.4's electMaster, including the
// "epoch unchanged on failure" contract from §9's Open Question.
func (r *Registry) ElectMaster(req rpcmodel.ElectMasterRequest) (rpcmodel.ElectMasterResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.replicas[req.BrokerName]
	if !ok {
		return rpcmodel.ElectMasterResponse{ErrorCode: rpcmodel.ErrorBrokerNotExist}, nil
	}

	events, resp := handleElectMaster(info)
	if err := r.commit(events); err != nil {
		return rpcmodel.ElectMasterResponse{}, err
	}
	return resp, nil
}

func handleElectMaster(info *ReplicaInfo) ([]EventMessage, rpcmodel.ElectMasterResponse) {
	candidates := make([]string, 0, len(info.SyncStateSet))
	for addr := range info.SyncStateSet {
		if addr == info.MasterAddress {
			continue
		}
		candidates = append(candidates, addr)
	}
	sort.Strings(candidates)

	if len(candidates) == 0 {
		ev := EventMessage{
			Type:             EventElectMaster,
			BrokerName:       info.BrokerName,
			Address:          "",
			MasterEpoch:      info.MasterEpoch, // unchanged per spec.md §4.4/§9
			NewMasterElected: false,
		}
		return []EventMessage{ev}, rpcmodel.ElectMasterResponse{
			NewMasterAddress: "",
			MasterEpoch:       info.MasterEpoch,
			SyncStateSetEpoch: info.SyncStateSetEpoch,
			ErrorCode:         rpcmodel.ErrorElectMasterFailed,
		}
	}

	newMaster := candidates[0]
	newEpoch := info.MasterEpoch + 1
	newSSEpoch := info.SyncStateSetEpoch + 1
	ev := EventMessage{
		Type:              EventElectMaster,
		BrokerName:        info.BrokerName,
		Address:           newMaster,
		MasterEpoch:       newEpoch,
		SyncStateSet:      []string{newMaster},
		SyncStateSetEpoch: newSSEpoch,
		NewMasterElected:  true,
	}

	brokerTable := make(map[string]rpcmodel.BrokerIdentity, len(info.ReplicaSet))
	for addr, id := range info.ReplicaSet {
		brokerTable[addr] = rpcmodel.BrokerIdentity{BrokerId: id, Address: addr}
	}

	resp := rpcmodel.ElectMasterResponse{
		NewMasterIdentity: newMaster,
		NewMasterAddress:  newMaster,
		MasterEpoch:       newEpoch,
		SyncStateSetEpoch: newSSEpoch,
		BrokerTable:       brokerTable,
		ErrorCode:         rpcmodel.ErrorNone,
	}
	return []EventMessage{ev}, resp
}

// Snapshot returns a defensive copy of one broker's ReplicaInfo, for tests.
func (r *Registry) Snapshot(brokerName string) *ReplicaInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.replicas[brokerName]
	if !ok {
		return nil
	}
	return info.clone()
}
