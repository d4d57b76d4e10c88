// Package nut14 implements HTLC spending conditions as defined in
// [NUT-14].
//
// [NUT-14]: https://github.com/cashubtc/nuts/blob/main/14.md
package nut14

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/elnosh/gonuts/cashu"
	"github.com/elnosh/gonuts/cashu/nuts/nut10"
	"github.com/elnosh/gonuts/cashu/nuts/nut11"
)

const (
	NUT14ErrCode cashu.CashuErrCode = 30004
)

var (
	InvalidPreimageErr = cashu.Error{Detail: "invalid preimage for HTLC", Code: NUT14ErrCode}
	InvalidHashErr     = cashu.Error{Detail: "invalid hash in secret", Code: NUT14ErrCode}
)

type HTLCWitness struct {
	Preimage   string   `json:"preimage"`
	Signatures []string `json:"signatures,omitempty"`
}

// AddWitnessHTLC attaches the preimage to each proof's witness, and a
// signature if the secret's tags require one.
func AddWitnessHTLC(proofs cashu.Proofs, secret nut10.WellKnownSecret, preimage string, signingKey *btcec.PrivateKey) (cashu.Proofs, error) {
	tags, err := nut11.ParseP2PKTags(secret.Tags)
	if err != nil {
		return nil, err
	}

	signatureNeeded := false
	if tags.NSigs > 0 {
		if tags.NSigs > 1 {
			return nil, errors.New("unable to provide enough signatures")
		}

		publicKey := signingKey.PubKey().SerializeCompressed()
		canSign := false
		for _, pk := range tags.Pubkeys {
			if string(pk.SerializeCompressed()) == string(publicKey) {
				canSign = true
				break
			}
		}
		if !canSign {
			return nil, errors.New("signing key is not part of public keys list that can provide signatures")
		}
		signatureNeeded = true
	}

	for i, proof := range proofs {
		htlcWitness := HTLCWitness{Preimage: preimage}
		if signatureNeeded {
			hash := sha256.Sum256([]byte(proof.Secret))
			signature, err := schnorr.Sign(signingKey, hash[:])
			if err != nil {
				return nil, err
			}
			htlcWitness.Signatures = []string{hex.EncodeToString(signature.Serialize())}
		}

		witness, err := json.Marshal(htlcWitness)
		if err != nil {
			return nil, err
		}
		proof.Witness = string(witness)
		proofs[i] = proof
	}

	return proofs, nil
}

// AddWitnessHTLCToOutputs signs each output's B_, used when the HTLC
// secret carries a SIG_ALL-equivalent requirement over outputs.
func AddWitnessHTLCToOutputs(outputs cashu.BlindedMessages, preimage string, signingKey *btcec.PrivateKey) (cashu.BlindedMessages, error) {
	for i, output := range outputs {
		hash := sha256.Sum256([]byte(output.B_))
		signature, err := schnorr.Sign(signingKey, hash[:])
		if err != nil {
			return nil, err
		}

		witness, err := json.Marshal(HTLCWitness{
			Preimage:   preimage,
			Signatures: []string{hex.EncodeToString(signature.Serialize())},
		})
		if err != nil {
			return nil, err
		}
		output.Witness = string(witness)
		outputs[i] = output
	}

	return outputs, nil
}

// VerifyHTLCProof checks the preimage against the secret's committed
// hash and, if required, the accompanying signatures. If the locktime
// has passed, the refund path is checked instead.
func VerifyHTLCProof(proof cashu.Proof, secret nut10.WellKnownSecret) error {
	var witness HTLCWitness
	if err := json.Unmarshal([]byte(proof.Witness), &witness); err != nil {
		return nut11.InvalidWitness
	}

	tags, err := nut11.ParseP2PKTags(secret.Tags)
	if err != nil {
		return err
	}

	if tags.Locktime > 0 && time.Now().Unix() > tags.Locktime {
		if len(tags.Refund) == 0 {
			return nil
		}
		hash := sha256.Sum256([]byte(proof.Secret))
		if len(witness.Signatures) < 1 {
			return nut11.InvalidWitness
		}
		if !nut11.HasValidSignatures(hash[:], witness.Signatures, 1, tags.Refund) {
			return nut11.NotEnoughSignaturesErr
		}
		return nil
	}

	preimageBytes, err := hex.DecodeString(witness.Preimage)
	if err != nil {
		return InvalidPreimageErr
	}
	hashBytes := sha256.Sum256(preimageBytes)
	hash := hex.EncodeToString(hashBytes[:])

	if len(secret.Data) != 64 {
		return InvalidHashErr
	}
	if hash != secret.Data {
		return InvalidPreimageErr
	}

	if tags.NSigs > 0 {
		if len(witness.Signatures) < 1 {
			return nut11.NoSignaturesErr
		}

		sigHash := sha256.Sum256([]byte(proof.Secret))
		if nut11.DuplicateSignatures(witness.Signatures) {
			return nut11.DuplicateSignaturesErr
		}
		if !nut11.HasValidSignatures(sigHash[:], witness.Signatures, tags.NSigs, tags.Pubkeys) {
			return nut11.NotEnoughSignaturesErr
		}
	}

	return nil
}

// HTLCSecret returns a secret with a spending condition that locks
// ecash to knowledge of a preimage whose SHA256 equals hashLock.
func HTLCSecret(hashLock string, tags [][]string) (string, error) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", err
	}

	secretData := nut10.WellKnownSecret{
		Nonce: hex.EncodeToString(nonceBytes),
		Data:  hashLock,
		Tags:  tags,
	}
	return nut10.SerializeSecret(nut10.HTLC, secretData)
}
