package signing

// The three subsystems that sign anything in this system each have their own
// trust root. The distinct named types below make it a compile error to hand
// one subsystem's signature or key id to another's verifier.

// CommandKeyID identifies the engine's own Ed25519 command-signing key.
type CommandKeyID string

// PolicyKeyID identifies the policy engine's HMAC key. The engine only ever
// carries these through to the audit trail.
type PolicyKeyID string

// LedgerKeyID identifies the audit ledger's countersigning key.
type LedgerKeyID string

// CommandSignature is a detached base64 Ed25519 signature over a canonical
// command payload, produced only by this engine's signer.
type CommandSignature string

// PolicySignature is an opaque signature produced by the policy engine's own
// scheme. Never verifiable with the engine's keys.
type PolicySignature string
