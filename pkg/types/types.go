package types

import (
	"fmt"
	"strings"
)

// Operation is the kind of data movement a selection is made for
type Operation int

const (
	OperationRead Operation = iota
	OperationWrite
	OperationCache
	OperationP2P
	OperationAny
)

var operationNames = [...]string{"read", "write", "cache", "p2p", "any"}

// String returns the lower-case operation name
func (o Operation) String() string {
	if o < 0 || int(o) >= len(operationNames) {
		return fmt.Sprintf("operation(%d)", int(o))
	}
	return operationNames[o]
}

// Operations lists every operation in declaration order
func Operations() []Operation {
	return []Operation{OperationRead, OperationWrite, OperationCache, OperationP2P, OperationAny}
}

// ParseOperation accepts the lower- or upper-case operation name
func ParseOperation(s string) (Operation, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range operationNames {
		if n == name {
			return Operation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// RetentionPolicy describes how many guaranteed copies a file must have
type RetentionPolicy int

const (
	RetentionUnspecified RetentionPolicy = iota
	RetentionCustodial
	RetentionOutput
	RetentionReplica
)

// String returns the upper-case policy name, empty when unspecified
func (r RetentionPolicy) String() string {
	switch r {
	case RetentionCustodial:
		return "CUSTODIAL"
	case RetentionOutput:
		return "OUTPUT"
	case RetentionReplica:
		return "REPLICA"
	default:
		return ""
	}
}

// ParseRetentionPolicy accepts CUSTODIAL, OUTPUT or REPLICA in any case.
// An empty string yields RetentionUnspecified.
func ParseRetentionPolicy(s string) (RetentionPolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return RetentionUnspecified, nil
	case "CUSTODIAL":
		return RetentionCustodial, nil
	case "OUTPUT":
		return RetentionOutput, nil
	case "REPLICA":
		return RetentionReplica, nil
	}
	return RetentionUnspecified, fmt.Errorf("unknown retention policy %q", s)
}

// AccessLatency describes how fast a file must be readable
type AccessLatency int

const (
	LatencyUnspecified AccessLatency = iota
	LatencyOnline
	LatencyNearline
)

// String returns the upper-case latency name, empty when unspecified
func (a AccessLatency) String() string {
	switch a {
	case LatencyOnline:
		return "ONLINE"
	case LatencyNearline:
		return "NEARLINE"
	default:
		return ""
	}
}

// ParseAccessLatency accepts ONLINE or NEARLINE in any case. An empty
// string yields LatencyUnspecified.
func ParseAccessLatency(s string) (AccessLatency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return LatencyUnspecified, nil
	case "ONLINE":
		return LatencyOnline, nil
	case "NEARLINE":
		return LatencyNearline, nil
	}
	return LatencyUnspecified, fmt.Errorf("unknown access latency %q", s)
}

// PnfsID identifies a file in the namespace. Legacy ids are 24 hex digits,
// current ones 36.
type PnfsID string

// ParsePnfsID validates s and returns it in upper case
func ParsePnfsID(s string) (PnfsID, error) {
	if len(s) != 24 && len(s) != 36 {
		return "", fmt.Errorf("invalid pnfsid %q: must be 24 or 36 hex digits", s)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F', c >= 'a' && c <= 'f':
		default:
			return "", fmt.Errorf("invalid pnfsid %q: non-hex character at %d", s, i)
		}
	}
	return PnfsID(strings.ToUpper(s)), nil
}

func (id PnfsID) String() string {
	return string(id)
}
