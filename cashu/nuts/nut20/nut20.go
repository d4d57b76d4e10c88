// Package nut20 implements NUT-20 mint quote signatures: when a mint
// quote is requested with a locking pubkey, the wallet must prove it
// holds the matching private key by signing the quote id and the
// blinded messages it later redeems it for.
//
// [NUT-20]: https://github.com/cashubtc/nuts/blob/main/20.md
package nut20

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/elnosh/gonuts/cashu"
)

func quoteHash(quoteId string, blindedMessages cashu.BlindedMessages) [32]byte {
	msg := quoteId
	for _, bm := range blindedMessages {
		msg += bm.B_
	}
	return sha256.Sum256([]byte(msg))
}

// SignMintQuote signs quoteId and the outputs about to redeem it with
// privateKey, producing the hex-encoded signature NUT-20 expects in a
// PostMintBolt11Request.
func SignMintQuote(privateKey *btcec.PrivateKey, quoteId string, blindedMessages cashu.BlindedMessages) (string, error) {
	hash := quoteHash(quoteId, blindedMessages)
	sig, err := schnorr.Sign(privateKey, hash[:])
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifyMintQuoteSignature checks a hex-encoded NUT-20 signature
// against quoteId, the outputs it covers, and pubkey (also hex).
func VerifyMintQuoteSignature(signature, quoteId string, blindedMessages cashu.BlindedMessages, pubkey string) bool {
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}

	pubkeyBytes, err := hex.DecodeString(pubkey)
	if err != nil {
		return false
	}
	key, err := btcec.ParsePubKey(pubkeyBytes)
	if err != nil {
		return false
	}

	hash := quoteHash(quoteId, blindedMessages)
	return sig.Verify(hash[:], key)
}
