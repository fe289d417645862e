package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// ecdsaProvider implements Provider using NIST P-256 ECDSA signatures.
// The Coordinator wire protocol never ships a compressed aggregate
// signature -- the outbound QC frame lists one [rid|siglen|sig] tuple
// per signer -- so Aggregate here orders and concatenates the supplied
// partial signatures rather than combining them into a single
// threshold signature; see DESIGN.md for why true BLS-style
// aggregation was not pursued.
type ecdsaProvider struct{}

// NewECDSAProvider returns the default Provider implementation.
func NewECDSAProvider() Provider {
	return ecdsaProvider{}
}

type ecdsaSig struct {
	R, S *big.Int
}

// GenerateKey creates a fresh P-256 keypair for a replica.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

func (ecdsaProvider) Sign(priv PrivateKey, obj Hash) ([]byte, error) {
	key, ok := priv.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("crypto: ecdsaProvider.Sign: want *ecdsa.PrivateKey, got %T", priv)
	}
	r, s, err := ecdsa.Sign(rand.Reader, key, obj[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return asn1.Marshal(ecdsaSig{R: r, S: s})
}

func (ecdsaProvider) Verify(pub PublicKey, obj Hash, sig []byte) bool {
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return false
	}
	var parsed ecdsaSig
	if _, err := asn1.Unmarshal(sig, &parsed); err != nil {
		return false
	}
	return ecdsa.Verify(key, obj[:], parsed.R, parsed.S)
}

// Aggregate orders the supplied partial certificates by signer and
// concatenates them into the wire form the Coordinator bridge expects.
// It does not verify signatures -- callers must have verified each
// partial certificate as it arrived (see consensus.Core.OnReceiveVote).
func (ecdsaProvider) Aggregate(obj Hash, parts []PartialCert) ([]byte, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("crypto: aggregate: no partial certificates")
	}
	ordered := make([]PartialCert, len(parts))
	copy(ordered, parts)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1].Signer > ordered[j].Signer; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}
	out := make([]byte, 0, 32+len(ordered)*(1+1+72))
	out = append(out, obj[:]...)
	for _, p := range ordered {
		out = append(out, byte(p.Signer), byte(len(p.Sig)))
		out = append(out, p.Sig...)
	}
	return out, nil
}

func (p ecdsaProvider) VerifyAggregate(obj Hash, agg []byte, pubs []PublicKey) bool {
	if len(agg) < 32 {
		return false
	}
	var got Hash
	copy(got[:], agg[:32])
	if got != obj {
		return false
	}
	buf := agg[32:]
	i := 0
	for len(buf) > 0 {
		if len(buf) < 2 {
			return false
		}
		siglen := int(buf[1])
		if len(buf) < 2+siglen {
			return false
		}
		sig := buf[2 : 2+siglen]
		if i < len(pubs) && !p.Verify(pubs[i], obj, sig) {
			return false
		}
		buf = buf[2+siglen:]
		i++
	}
	return true
}
