package engine

import "fmt"

// CommandType is the closed set of enforcement commands the engine can issue.
type CommandType string

const (
	IsolateHost      CommandType = "ISOLATE_HOST"
	QuarantineHost   CommandType = "QUARANTINE_HOST"
	BlockProcess     CommandType = "BLOCK_PROCESS"
	BlockNetwork     CommandType = "BLOCK_NETWORK"
	QuarantineFile   CommandType = "QUARANTINE_FILE"
	TerminateProcess CommandType = "TERMINATE_PROCESS"
	DisableUser      CommandType = "DISABLE_USER"
	RevokeAccess     CommandType = "REVOKE_ACCESS"
)

// ParseCommandType validates a command type string against the closed set.
func ParseCommandType(s string) (CommandType, error) {
	switch ct := CommandType(s); ct {
	case IsolateHost, QuarantineHost, BlockProcess, BlockNetwork,
		QuarantineFile, TerminateProcess, DisableUser, RevokeAccess:
		return ct, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Classification separates commands that can disrupt operations from
// observational containment steps.
type Classification string

const (
	ClassSafe        Classification = "SAFE"
	ClassDestructive Classification = "DESTRUCTIVE"
)

// Classify maps every command type to its frozen classification. The switch is
// exhaustive over the closed set; an unknown value is a programming fault.
func Classify(ct CommandType) Classification {
	switch ct {
	case BlockProcess, BlockNetwork, QuarantineFile:
		return ClassSafe
	case IsolateHost, QuarantineHost, TerminateProcess, DisableUser, RevokeAccess:
		return ClassDestructive
	default:
		panic(fmt.Sprintf("engine: unclassified command type %q", ct))
	}
}

// InverseCommand returns the command an agent runs to undo a previously
// executed command. Every command in the closed set is invertible, which is
// what makes all actions rollback-capable.
func InverseCommand(ct CommandType) CommandType {
	switch ct {
	case IsolateHost, QuarantineHost:
		return RevokeAccess // release isolation
	case BlockProcess, TerminateProcess:
		return BlockProcess // unblock is the same verb with inverse payload
	case BlockNetwork:
		return BlockNetwork
	case QuarantineFile:
		return QuarantineFile
	case DisableUser, RevokeAccess:
		return DisableUser
	default:
		panic(fmt.Sprintf("engine: no inverse for command type %q", ct))
	}
}

// BlastScope declares how far an action reaches.
type BlastScope string

const (
	ScopeHost    BlastScope = "HOST"
	ScopeGroup   BlastScope = "GROUP"
	ScopeNetwork BlastScope = "NETWORK"
	ScopeGlobal  BlastScope = "GLOBAL"
)

// ParseBlastScope validates a scope string.
func ParseBlastScope(s string) (BlastScope, error) {
	switch sc := BlastScope(s); sc {
	case ScopeHost, ScopeGroup, ScopeNetwork, ScopeGlobal:
		return sc, nil
	default:
		return "", fmt.Errorf("invalid blast scope: %q", s)
	}
}

// RequiresScopeApproval reports whether the scope alone forces human approval,
// regardless of expected impact.
func (s BlastScope) RequiresScopeApproval() bool {
	return s == ScopeGroup || s == ScopeNetwork || s == ScopeGlobal
}

// Impact is the declared expected operational impact of an action.
type Impact string

const (
	ImpactLow    Impact = "LOW"
	ImpactMedium Impact = "MEDIUM"
	ImpactHigh   Impact = "HIGH"
)

// ParseImpact validates an impact string.
func ParseImpact(s string) (Impact, error) {
	switch i := Impact(s); i {
	case ImpactLow, ImpactMedium, ImpactHigh:
		return i, nil
	default:
		return "", fmt.Errorf("invalid expected impact: %q", s)
	}
}
