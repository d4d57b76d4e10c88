package crypto

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// BlindMessage computes B_ = Y + rG from a secret and blinding factor,
// where Y = HashToCurve(secret). If blindingFactor is nil, a random one
// is drawn from the curve's scalar field.
func BlindMessage(secret []byte, blindingFactor *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	Y := HashToCurve(secret)

	r := blindingFactor
	if r == nil {
		var err error
		r, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, err
		}
	}

	B_ := addPoints(Y, r.PubKey())
	return B_, r, nil
}

// SignBlindedMessage computes C_ = kB_. Mint-side operation; exposed
// here so the wallet's own tests can act as the signing oracle without
// a live mint.
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	return scalarMult(&k.Key, B_)
}

// UnblindSignature computes C = C_ - rK.
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey, K *secp256k1.PublicKey) *secp256k1.PublicKey {
	rK := scalarMult(&r.Key, K)
	return subPoints(C_, rK)
}

// Verify checks that k*HashToCurve(secret) == C.
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	Y := HashToCurve(secret)
	expected := scalarMult(&k.Key, Y)
	return C.IsEqual(expected)
}
