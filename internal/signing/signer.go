package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"time"
)

// CommandPayload is the canonical command sent to agents.
type CommandPayload struct {
	CommandID       string `json:"command_id"`
	CommandType     string `json:"command_type"`
	TargetMachineID string `json:"target_machine_id"`
	IncidentID      string `json:"incident_id"`
	IssuedAt        string `json:"issued_at"` // RFC3339 UTC
	IssuedBy        string `json:"issued_by_user_id,omitempty"`
	Mode            string `json:"tre_mode,omitempty"`
	ApprovalID      string `json:"approval_id,omitempty"`
}

// SignedCommand is a payload plus its detached signature, ready for dispatch.
type SignedCommand struct {
	Payload   CommandPayload   `json:"payload"`
	Signature CommandSignature `json:"signature"`
	KeyID     CommandKeyID     `json:"signing_key_id"`
	Algorithm string           `json:"signing_algorithm"`
	SignedAt  string           `json:"signed_at"`
}

// Signer signs command payloads with the engine's Ed25519 key.
type Signer struct {
	kp  *KeyPair
	now func() time.Time
}

// NewSigner creates a Signer over the given keypair.
func NewSigner(kp *KeyPair) *Signer {
	return &Signer{kp: kp, now: time.Now}
}

// KeyID returns the id of the signing key.
func (s *Signer) KeyID() CommandKeyID {
	return s.kp.KeyID
}

// Sign serializes the payload canonically and returns a detached signature.
func (s *Signer) Sign(payload CommandPayload) (CommandSignature, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(s.kp.Private, canonical)
	return CommandSignature(base64.StdEncoding.EncodeToString(sig)), nil
}

// SignCommand wraps the payload into a dispatch-ready signed envelope.
func (s *Signer) SignCommand(payload CommandPayload) (SignedCommand, error) {
	sig, err := s.Sign(payload)
	if err != nil {
		return SignedCommand{}, err
	}
	return SignedCommand{
		Payload:   payload,
		Signature: sig,
		KeyID:     s.kp.KeyID,
		Algorithm: "ed25519",
		SignedAt:  s.now().UTC().Format(time.RFC3339),
	}, nil
}

// Verifier checks detached command signatures. Agents run the same check
// against the engine's published public key before executing anything.
type Verifier struct {
	pub   ed25519.PublicKey
	keyID CommandKeyID
}

// NewVerifier creates a Verifier for one public key.
func NewVerifier(pub ed25519.PublicKey, keyID CommandKeyID) *Verifier {
	return &Verifier{pub: pub, keyID: keyID}
}

// Verify reports whether the signature matches the canonical payload bytes
// and was produced by the key this verifier trusts.
func (v *Verifier) Verify(payload CommandPayload, sig CommandSignature, keyID CommandKeyID) bool {
	if keyID != v.keyID {
		return false
	}
	canonical, err := Canonicalize(payload)
	if err != nil {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(string(sig))
	if err != nil {
		return false
	}
	return ed25519.Verify(v.pub, canonical, raw)
}
