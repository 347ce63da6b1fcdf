package server

import (
	"fmt"
	"slices"

	"poolselect/pkg/replica"
	"poolselect/pkg/selection"
	"poolselect/pkg/types"
)

// MatchRequest is the wire form of selection.Request
type MatchRequest struct {
	Operation       string   `json:"operation"`
	ClientAddress   string   `json:"client_address,omitempty"`
	Protocol        string   `json:"protocol,omitempty"`
	StoreUnit       string   `json:"store_unit,omitempty"`
	DCacheUnit      string   `json:"dcache_unit,omitempty"`
	HSM             string   `json:"hsm,omitempty"`
	RetentionPolicy string   `json:"retention_policy,omitempty"`
	AccessLatency   string   `json:"access_latency,omitempty"`
	LinkGroup       string   `json:"link_group,omitempty"`
	Exclude         []string `json:"exclude,omitempty"`
}

// Request converts the wire form, rejecting unknown enum values
func (m *MatchRequest) Request() (selection.Request, error) {
	op, err := types.ParseOperation(m.Operation)
	if err != nil {
		return selection.Request{}, fmt.Errorf("%w: %v", selection.ErrMalformedInput, err)
	}
	rp, err := types.ParseRetentionPolicy(m.RetentionPolicy)
	if err != nil {
		return selection.Request{}, fmt.Errorf("%w: %v", selection.ErrMalformedInput, err)
	}
	al, err := types.ParseAccessLatency(m.AccessLatency)
	if err != nil {
		return selection.Request{}, fmt.Errorf("%w: %v", selection.ErrMalformedInput, err)
	}

	req := selection.Request{
		Operation:     op,
		ClientAddress: m.ClientAddress,
		Protocol:      m.Protocol,
		LinkGroup:     m.LinkGroup,
		Storage: selection.StorageInfo{
			StoreUnit:       m.StoreUnit,
			DCacheUnit:      m.DCacheUnit,
			HSM:             m.HSM,
			RetentionPolicy: rp,
			AccessLatency:   al,
		},
	}
	if len(m.Exclude) > 0 {
		excluded := slices.Clone(m.Exclude)
		req.Exclude = func(pool string) bool { return slices.Contains(excluded, pool) }
	}
	return req, nil
}

// MatchResponse lists the preference levels, highest first
type MatchResponse struct {
	Levels []selection.PreferenceLevel `json:"levels"`
}

// CommandRequest carries psu command lines applied as one atomic update
type CommandRequest struct {
	Lines []string `json:"lines"`
}

// CommandResponse reports how many lines were applied and the resulting generation
type CommandResponse struct {
	Applied    int    `json:"applied"`
	Generation uint64 `json:"generation"`
}

// DumpSetupRequest has no fields
type DumpSetupRequest struct{}

// DumpSetupResponse holds the setup script of one generation
type DumpSetupResponse struct {
	Generation uint64 `json:"generation"`
	Setup      string `json:"setup"`
}

// ReplicaStateRequest names a replica by PNFS ID
type ReplicaStateRequest struct {
	PnfsID string `json:"pnfsid"`
}

// ID parses the requested PNFS ID
func (r *ReplicaStateRequest) ID() (types.PnfsID, error) {
	id, err := types.ParsePnfsID(r.PnfsID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", replica.ErrMalformedInput, err)
	}
	return id, nil
}

// ReplicaStateResponse describes one replica
type ReplicaStateResponse struct {
	Replica replica.Info `json:"replica"`
}
