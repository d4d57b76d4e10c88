// Package crypto implements the secp256k1 primitives the BDHKE protocol
// is built on: domain-separated hash-to-curve, point/scalar arithmetic,
// DLEQ proofs and keyset identifiers.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// domainSeparator is prefixed to every message before hashing to curve,
// per NUT-00. Without it, hash-to-curve output collides across
// unrelated protocols that also try-and-increment over SHA256.
const domainSeparator = "Secp256k1_HashToCurve_Cashu_"

// HashToCurve maps an arbitrary secret to a point on the curve using the
// domain-separated try-and-increment algorithm: it hashes the secret
// once, then appends a little-endian uint32 counter and re-hashes until
// the result parses as a valid compressed point.
func HashToCurve(secret []byte) *secp256k1.PublicKey {
	msgHash := sha256.Sum256(append([]byte(domainSeparator), secret...))

	var counter uint32
	for {
		var counterBytes [4]byte
		binary.LittleEndian.PutUint32(counterBytes[:], counter)

		h := sha256.New()
		h.Write(msgHash[:])
		h.Write(counterBytes[:])
		candidate := h.Sum(nil)

		compressed := append([]byte{0x02}, candidate...)
		if point, err := secp256k1.ParsePubKey(compressed); err == nil {
			return point
		}
		counter++
	}
}

// addPoints returns P+Q.
func addPoints(P, Q *secp256k1.PublicKey) *secp256k1.PublicKey {
	var jP, jQ, jR secp256k1.JacobianPoint
	P.AsJacobian(&jP)
	Q.AsJacobian(&jQ)
	secp256k1.AddNonConst(&jP, &jQ, &jR)
	jR.ToAffine()
	return secp256k1.NewPublicKey(&jR.X, &jR.Y)
}

// negatePoint returns -P.
func negatePoint(P *secp256k1.PublicKey) *secp256k1.PublicKey {
	var jP secp256k1.JacobianPoint
	P.AsJacobian(&jP)
	jP.Y.Negate(1)
	jP.Y.Normalize()
	jP.ToAffine()
	return secp256k1.NewPublicKey(&jP.X, &jP.Y)
}

// subPoints returns P-Q.
func subPoints(P, Q *secp256k1.PublicKey) *secp256k1.PublicKey {
	return addPoints(P, negatePoint(Q))
}

// scalarMult returns k*P.
func scalarMult(k *secp256k1.ModNScalar, P *secp256k1.PublicKey) *secp256k1.PublicKey {
	var jP, jR secp256k1.JacobianPoint
	P.AsJacobian(&jP)
	secp256k1.ScalarMultNonConst(k, &jP, &jR)
	jR.ToAffine()
	return secp256k1.NewPublicKey(&jR.X, &jR.Y)
}

// generatorMult returns k*G.
func generatorMult(k *secp256k1.ModNScalar) *secp256k1.PublicKey {
	_, pub := secp256k1.PrivKeyFromBytes(k.Bytes()[:])
	return pub
}
