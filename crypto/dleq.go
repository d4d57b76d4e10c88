package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// DLEQProof is a non-interactive discrete-log-equality proof that the
// same scalar k satisfies both K=kG and C_=kB_.
type DLEQProof struct {
	E *secp256k1.PrivateKey
	S *secp256k1.PrivateKey
}

// challengeHash computes e = H(R1, R2, K, C_), concatenating the
// uncompressed (65-byte) encoding of each point, hex-ASCII, then
// SHA256 of that hex string.
func challengeHash(R1, R2, K, C_ *secp256k1.PublicKey) *secp256k1.PrivateKey {
	h := sha256.New()
	h.Write([]byte(hex.EncodeToString(R1.SerializeUncompressed())))
	h.Write([]byte(hex.EncodeToString(R2.SerializeUncompressed())))
	h.Write([]byte(hex.EncodeToString(K.SerializeUncompressed())))
	h.Write([]byte(hex.EncodeToString(C_.SerializeUncompressed())))
	return secp256k1.PrivKeyFromBytes(h.Sum(nil))
}

// GenerateDLEQ produces a mint-side proof that C_ = k*B_ for the same k
// committed to in K = k*G, without revealing k.
func GenerateDLEQ(k *secp256k1.PrivateKey, B_, C_ *secp256k1.PublicKey) (*DLEQProof, error) {
	rPrime, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	R1 := rPrime.PubKey()
	R2 := scalarMult(&rPrime.Key, B_)

	K := k.PubKey()
	e := challengeHash(R1, R2, K, C_)

	// s = r' + e*k mod n
	var s secp256k1.ModNScalar
	s.Set(&e.Key)
	s.Mul(&k.Key)
	s.Add(&rPrime.Key)

	return &DLEQProof{E: e, S: secp256k1.NewPrivateKey(&s)}, nil
}

// VerifyDLEQ checks a DLEQ proof (e,s) against public key K = kG and
// blinded pair (B_, C_).
func VerifyDLEQ(e, s *secp256k1.PrivateKey, K, B_, C_ *secp256k1.PublicKey) bool {
	// R1' = sG - eK
	sG := generatorMult(&s.Key)
	eK := scalarMult(&e.Key, K)
	R1Prime := subPoints(sG, eK)

	// R2' = sB_ - eC_
	sB_ := scalarMult(&s.Key, B_)
	eC_ := scalarMult(&e.Key, C_)
	R2Prime := subPoints(sB_, eC_)

	recomputed := challengeHash(R1Prime, R2Prime, K, C_)
	return recomputed.Key.Equals(&e.Key)
}
