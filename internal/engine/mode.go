package engine

import "fmt"

// Mode is the engine-wide enforcement posture. Exactly three modes exist.
type Mode string

const (
	ModeDryRun      Mode = "DRY_RUN"      // simulate only, nothing is dispatched
	ModeGuardedExec Mode = "GUARDED_EXEC" // SAFE commands run, DESTRUCTIVE are blocked
	ModeFullEnforce Mode = "FULL_ENFORCE" // everything runs, DESTRUCTIVE needs authority
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDryRun, ModeGuardedExec, ModeFullEnforce:
		return m, nil
	default:
		return "", fmt.Errorf("invalid execution mode: %q", s)
	}
}

// AuthorityLevel is the tier of human sign-off a command requires.
type AuthorityLevel string

const (
	AuthorityNone  AuthorityLevel = "NONE"
	AuthorityHuman AuthorityLevel = "HUMAN"
	AuthorityRole  AuthorityLevel = "ROLE"
)

// ModeBehavior is what the active mode dictates for one classification.
type ModeBehavior struct {
	Execute      bool
	SimulateOnly bool
	Blocked      bool
	BlockReason  string
	Authority    AuthorityLevel
}

// BehaviorFor resolves mode x classification into concrete pipeline behavior.
// Both inputs are closed sets, so the switch covers every combination.
func BehaviorFor(mode Mode, class Classification) ModeBehavior {
	switch mode {
	case ModeDryRun:
		return ModeBehavior{SimulateOnly: true, Authority: AuthorityNone}
	case ModeGuardedExec:
		if class == ClassSafe {
			return ModeBehavior{Execute: true, Authority: AuthorityNone}
		}
		return ModeBehavior{
			Blocked:     true,
			BlockReason: "DESTRUCTIVE commands are blocked in GUARDED_EXEC mode",
		}
	case ModeFullEnforce:
		if class == ClassSafe {
			return ModeBehavior{Execute: true, Authority: AuthorityNone}
		}
		return ModeBehavior{Execute: true, Authority: AuthorityHuman}
	default:
		panic(fmt.Sprintf("engine: unknown mode %q", mode))
	}
}

// RequiredAuthority is the pure command-type x mode function deciding the
// sign-off tier a command needs before dispatch.
func RequiredAuthority(ct CommandType, mode Mode) AuthorityLevel {
	return BehaviorFor(mode, Classify(ct)).Authority
}
