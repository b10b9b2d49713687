package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func testKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	return &KeyPair{Private: priv, Public: pub, KeyID: keyID(pub)}
}

func testPayload() CommandPayload {
	return CommandPayload{
		CommandID:       "cmd-1",
		CommandType:     "ISOLATE_HOST",
		TargetMachineID: "host-1",
		IncidentID:      "inc-1",
		IssuedAt:        time.Now().UTC().Format(time.RFC3339),
		IssuedBy:        "alice",
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp := testKeyPair(t)
	signer := NewSigner(kp)
	verifier := NewVerifier(kp.Public, kp.KeyID)

	payload := testPayload()
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !verifier.Verify(payload, sig, kp.KeyID) {
		t.Fatal("signature did not verify")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	kp := testKeyPair(t)
	signer := NewSigner(kp)
	verifier := NewVerifier(kp.Public, kp.KeyID)

	payload := testPayload()
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tampered := payload
	tampered.TargetMachineID = "host-2"
	if verifier.Verify(tampered, sig, kp.KeyID) {
		t.Fatal("tampered payload verified")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp := testKeyPair(t)
	other := testKeyPair(t)
	signer := NewSigner(kp)

	payload := testPayload()
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// Wrong key id: rejected before any cryptography runs.
	if NewVerifier(kp.Public, kp.KeyID).Verify(payload, sig, other.KeyID) {
		t.Fatal("mismatched key id verified")
	}
	// Right key id claim, wrong public key.
	if NewVerifier(other.Public, kp.KeyID).Verify(payload, sig, kp.KeyID) {
		t.Fatal("signature verified under a different public key")
	}
}

func TestSignCommandEnvelope(t *testing.T) {
	kp := testKeyPair(t)
	signer := NewSigner(kp)

	cmd, err := signer.SignCommand(testPayload())
	if err != nil {
		t.Fatalf("SignCommand: %v", err)
	}
	if cmd.Algorithm != "ed25519" {
		t.Errorf("algorithm = %q, want ed25519", cmd.Algorithm)
	}
	if cmd.KeyID != kp.KeyID {
		t.Errorf("key id = %q, want %q", cmd.KeyID, kp.KeyID)
	}
	if cmd.SignedAt == "" {
		t.Error("signed_at is empty")
	}
	if !NewVerifier(kp.Public, kp.KeyID).Verify(cmd.Payload, cmd.Signature, cmd.KeyID) {
		t.Fatal("envelope signature did not verify")
	}
}
