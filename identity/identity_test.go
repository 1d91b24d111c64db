package identity

import (
	"context"
	"testing"

	"github.com/22388o/radicle-link/cid"
)

func TestSignAndVerify(t *testing.T) {
	signer, err := NewKeySigner()
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	digest := []byte("a change commit digest")
	sig, err := signer.Sign(context.Background(), digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(signer.PublicKey(), digest, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedDigest(t *testing.T) {
	signer, err := NewKeySigner()
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	sig, err := signer.Sign(context.Background(), []byte("original"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(signer.PublicKey(), []byte("tampered"), sig); err == nil {
		t.Fatal("Verify unexpectedly succeeded on a tampered digest")
	}
}

func TestStaticOracle(t *testing.T) {
	oracle := NewStaticOracle()
	identityCommit := cid.Sum([]byte("identity root"))
	otherCommit := cid.Sum([]byte("identity root, later revision"))
	signer, err := NewKeySigner()
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	other, err := NewKeySigner()
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	oracle.Authorize(identityCommit, signer.PublicKey())

	ok, err := oracle.IsDelegate(context.Background(), identityCommit, signer.PublicKey())
	if err != nil || !ok {
		t.Fatalf("IsDelegate(authorized) = %v, %v, want true, nil", ok, err)
	}
	ok, err = oracle.IsDelegate(context.Background(), identityCommit, other.PublicKey())
	if err != nil || ok {
		t.Fatalf("IsDelegate(unauthorized key) = %v, %v, want false, nil", ok, err)
	}
	ok, err = oracle.IsDelegate(context.Background(), otherCommit, signer.PublicKey())
	if err != nil || ok {
		t.Fatalf("IsDelegate(different identity commit) = %v, %v, want false, nil", ok, err)
	}
}

func TestStaticOracleVerifyDelegateSignature(t *testing.T) {
	oracle := NewStaticOracle()
	identityCommit := cid.Sum([]byte("identity root"))
	signer, err := NewKeySigner()
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	forger, err := NewKeySigner()
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	oracle.Authorize(identityCommit, signer.PublicKey())

	digest := []byte("a change commit digest")
	sig, err := signer.Sign(context.Background(), digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	pub, err := oracle.VerifyDelegateSignature(context.Background(), identityCommit, digest, sig)
	if err != nil || !pub.Equal(signer.PublicKey()) {
		t.Fatalf("VerifyDelegateSignature(valid) = %v, %v, want signer's key, nil", pub, err)
	}

	forged, err := forger.Sign(context.Background(), digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := oracle.VerifyDelegateSignature(context.Background(), identityCommit, digest, forged); err != ErrNotADelegate {
		t.Fatalf("VerifyDelegateSignature(forged) = %v, want ErrNotADelegate", err)
	}
}
