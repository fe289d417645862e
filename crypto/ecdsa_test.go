package crypto

import "testing"

func TestECDSASignAndVerify(t *testing.T) {
	provider := NewECDSAProvider()
	priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	obj := Hash{1, 2, 3}

	sig, err := provider.Sign(priv, obj)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !provider.Verify(&priv.PublicKey, obj, sig) {
		t.Fatal("verify must accept a signature produced over the same object")
	}

	other := Hash{9, 9, 9}
	if provider.Verify(&priv.PublicKey, other, sig) {
		t.Fatal("verify must reject a signature checked against a different object")
	}
}

func TestECDSAVerifyRejectsWrongKeyType(t *testing.T) {
	provider := NewECDSAProvider()
	if provider.Verify("not a key", Hash{}, []byte("sig")) {
		t.Fatal("verify must reject a public key of the wrong concrete type")
	}
}
