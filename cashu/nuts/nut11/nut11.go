// Package nut11 contains structs and logic as defined in [NUT-11]
// (Pay to Public Key spending conditions).
//
// [NUT-11]: https://github.com/cashubtc/nuts/blob/main/11.md
package nut11

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/elnosh/gonuts/cashu"
	"github.com/elnosh/gonuts/cashu/nuts/nut10"
)

const (
	// supported tags
	SIGFLAG  = "sigflag"
	NSIGS    = "n_sigs"
	PUBKEYS  = "pubkeys"
	LOCKTIME = "locktime"
	REFUND   = "refund"

	// SIGFLAG types
	SIGINPUTS = "SIG_INPUTS"
	SIGALL    = "SIG_ALL"

	// Error code
	NUT11ErrCode cashu.CashuErrCode = 30001
)

type SigFlag int

const (
	SigInputs SigFlag = iota
	SigAll
	Unknown
)

// errors
var (
	InvalidTagErr            = cashu.Error{Detail: "invalid tag", Code: NUT11ErrCode}
	TooManyTagsErr           = cashu.Error{Detail: "too many tags", Code: NUT11ErrCode}
	NSigsMustBePositiveErr   = cashu.Error{Detail: "n_sigs must be a positive integer", Code: NUT11ErrCode}
	EmptyPubkeysErr          = cashu.Error{Detail: "pubkeys tag cannot be empty if n_sigs tag is present", Code: NUT11ErrCode}
	EmptyWitnessErr          = cashu.Error{Detail: "witness cannot be empty", Code: NUT11ErrCode}
	InvalidWitness           = cashu.Error{Detail: "invalid witness", Code: NUT11ErrCode}
	NoSignaturesErr          = cashu.Error{Detail: "no signatures provided in witness", Code: NUT11ErrCode}
	DuplicateSignaturesErr   = cashu.Error{Detail: "witness contains duplicate signatures", Code: NUT11ErrCode}
	NotEnoughSignaturesErr   = cashu.Error{Detail: "not enough valid signatures provided", Code: NUT11ErrCode}
	AllSigAllFlagsErr        = cashu.Error{Detail: "all flags must be SIG_ALL", Code: NUT11ErrCode}
	SigAllKeysMustBeEqualErr = cashu.Error{Detail: "all public keys must be the same for SIG_ALL", Code: NUT11ErrCode}
	SigAllOnlySwap           = cashu.Error{Detail: "SIG_ALL can only be used in /swap operation", Code: NUT11ErrCode}
	NSigsMustBeEqualErr      = cashu.Error{Detail: "all n_sigs must be the same for SIG_ALL", Code: NUT11ErrCode}
)

type P2PKWitness struct {
	Signatures []string `json:"signatures"`
}

type P2PKTags struct {
	Sigflag  string
	NSigs    int
	Pubkeys  []*btcec.PublicKey
	Locktime int64
	Refund   []*btcec.PublicKey
}

// P2PKSecret returns a secret with a spending condition that locks
// ecash to a public key.
func P2PKSecret(pubkey string) (string, error) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(nonceBytes)

	secretData := nut10.WellKnownSecret{
		Nonce: nonce,
		Data:  pubkey,
	}

	return nut10.SerializeSecret(nut10.P2PK, secretData)
}

func ParseP2PKTags(tags [][]string) (*P2PKTags, error) {
	if len(tags) > 5 {
		return nil, TooManyTagsErr
	}

	p2pkTags := P2PKTags{}

	for _, tag := range tags {
		if len(tag) < 2 {
			return nil, InvalidTagErr
		}
		tagType := tag[0]
		switch tagType {
		case SIGFLAG:
			sigflagType := tag[1]
			if sigflagType == SIGINPUTS || sigflagType == SIGALL {
				p2pkTags.Sigflag = sigflagType
			} else {
				errmsg := fmt.Sprintf("invalid sigflag: %v", sigflagType)
				return nil, cashu.BuildCashuError(errmsg, NUT11ErrCode)
			}
		case NSIGS:
			nsig, err := strconv.ParseInt(tag[1], 10, 8)
			if err != nil {
				errmsg := fmt.Sprintf("invalid n_sigs value: %v", err)
				return nil, cashu.BuildCashuError(errmsg, NUT11ErrCode)
			}
			if nsig < 0 {
				return nil, NSigsMustBePositiveErr
			}
			p2pkTags.NSigs = int(nsig)
		case PUBKEYS:
			pubkeys := make([]*btcec.PublicKey, 0, len(tag)-1)
			for i := 1; i < len(tag); i++ {
				pubkey, err := ParsePublicKey(tag[i])
				if err != nil {
					return nil, err
				}
				pubkeys = append(pubkeys, pubkey)
			}
			p2pkTags.Pubkeys = pubkeys
		case LOCKTIME:
			locktime, err := strconv.ParseInt(tag[1], 10, 64)
			if err != nil {
				errmsg := fmt.Sprintf("invalid locktime: %v", err)
				return nil, cashu.BuildCashuError(errmsg, NUT11ErrCode)
			}
			p2pkTags.Locktime = locktime
		case REFUND:
			refundKeys := make([]*btcec.PublicKey, 0, len(tag)-1)
			for i := 1; i < len(tag); i++ {
				pubkey, err := ParsePublicKey(tag[i])
				if err != nil {
					return nil, err
				}
				refundKeys = append(refundKeys, pubkey)
			}
			p2pkTags.Refund = refundKeys
		}
	}

	return &p2pkTags, nil
}

// AddSignatureToInputs signs the secret of every proof with signingKey
// and attaches the resulting P2PKWitness.
func AddSignatureToInputs(inputs cashu.Proofs, signingKey *btcec.PrivateKey) (cashu.Proofs, error) {
	for i, proof := range inputs {
		hash := sha256.Sum256([]byte(proof.Secret))
		signature, err := schnorr.Sign(signingKey, hash[:])
		if err != nil {
			return nil, err
		}

		witness, err := json.Marshal(P2PKWitness{
			Signatures: []string{hex.EncodeToString(signature.Serialize())},
		})
		if err != nil {
			return nil, err
		}
		proof.Witness = string(witness)
		inputs[i] = proof
	}

	return inputs, nil
}

// AddSignatureToOutputs signs each output's B_ for SIG_ALL spending
// conditions, where outputs must be authorized alongside inputs.
func AddSignatureToOutputs(outputs cashu.BlindedMessages, signingKey *btcec.PrivateKey) (cashu.BlindedMessages, error) {
	for i, output := range outputs {
		msgToSign, err := hex.DecodeString(output.B_)
		if err != nil {
			return nil, err
		}

		hash := sha256.Sum256(msgToSign)
		signature, err := schnorr.Sign(signingKey, hash[:])
		if err != nil {
			return nil, err
		}

		witness, err := json.Marshal(P2PKWitness{
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

// PublicKeys returns the list of public keys that can sign a P2PK
// locked proof: the primary key plus any additional signers in tags.
func PublicKeys(secret nut10.WellKnownSecret) ([]*btcec.PublicKey, error) {
	p2pkTags, err := ParseP2PKTags(secret.Tags)
	if err != nil {
		return nil, err
	}

	pubkey, err := ParsePublicKey(secret.Data)
	if err != nil {
		return nil, err
	}
	return append([]*btcec.PublicKey{pubkey}, p2pkTags.Pubkeys...), nil
}

func IsSecretP2PK(proof cashu.Proof) bool {
	return nut10.SecretType(proof) == nut10.P2PK
}

// ProofsSigAll returns true if at least one of the proofs carries the
// SIG_ALL flag.
func ProofsSigAll(proofs cashu.Proofs) bool {
	for _, proof := range proofs {
		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			continue
		}
		if IsSigAll(secret) {
			return true
		}
	}
	return false
}

func IsSigAll(secret nut10.WellKnownSecret) bool {
	for _, tag := range secret.Tags {
		if len(tag) == 2 && tag[0] == SIGFLAG && tag[1] == SIGALL {
			return true
		}
	}
	return false
}

func CanSign(secret nut10.WellKnownSecret, key *btcec.PrivateKey) bool {
	publicKey, err := ParsePublicKey(secret.Data)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(publicKey.SerializeCompressed(), key.PubKey().SerializeCompressed())
}

// DuplicateSignatures reports whether sigs contains the same signature
// more than once.
func DuplicateSignatures(sigs []string) bool {
	seen := make(map[string]bool, len(sigs))
	for _, s := range sigs {
		if seen[s] {
			return true
		}
		seen[s] = true
	}
	return false
}

// HasValidSignatures counts distinct valid signatures against pubkeys
// (each pubkey usable at most once) and reports whether the count meets
// Nsigs.
func HasValidSignatures(hash []byte, signatures []string, Nsigs int, pubkeys []*btcec.PublicKey) bool {
	pubkeysCopy := make([]*btcec.PublicKey, len(pubkeys))
	copy(pubkeysCopy, pubkeys)

	validSignatures := 0
	for _, signature := range signatures {
		sig, err := ParseSignature(signature)
		if err != nil {
			continue
		}

		for i, pubkey := range pubkeysCopy {
			if sig.Verify(hash, pubkey) {
				validSignatures++
				pubkeysCopy = slices.Delete(pubkeysCopy, i, i+1)
				break
			}
		}
	}

	return validSignatures >= Nsigs
}

// VerifyP2PKProof checks that proof carries a valid witness for its
// P2PK well-known secret: enough distinct signatures from the allowed
// signer set, honoring the locktime/refund escape hatch.
func VerifyP2PKProof(proof cashu.Proof, secret nut10.WellKnownSecret) error {
	var witness P2PKWitness
	if err := json.Unmarshal([]byte(proof.Witness), &witness); err != nil {
		witness.Signatures = []string{}
	}

	tags, err := ParseP2PKTags(secret.Tags)
	if err != nil {
		return err
	}

	hash := sha256.Sum256([]byte(proof.Secret))

	if tags.Locktime > 0 && time.Now().Unix() > tags.Locktime {
		if len(tags.Refund) == 0 {
			return nil
		}
		if len(witness.Signatures) < 1 {
			return InvalidWitness
		}
		if !HasValidSignatures(hash[:], witness.Signatures, 1, tags.Refund) {
			return NotEnoughSignaturesErr
		}
		return nil
	}

	pubkey, err := ParsePublicKey(secret.Data)
	if err != nil {
		return err
	}
	keys := []*btcec.PublicKey{pubkey}

	signaturesRequired := 1
	if tags.NSigs > 0 {
		signaturesRequired = tags.NSigs
		if len(tags.Pubkeys) == 0 {
			return EmptyPubkeysErr
		}
		keys = append(keys, tags.Pubkeys...)
	}

	if len(witness.Signatures) < 1 {
		return InvalidWitness
	}
	if DuplicateSignatures(witness.Signatures) {
		return DuplicateSignaturesErr
	}
	if !HasValidSignatures(hash[:], witness.Signatures, signaturesRequired, keys) {
		return NotEnoughSignaturesErr
	}

	return nil
}

func ParsePublicKey(key string) (*btcec.PublicKey, error) {
	hexPubkey, err := hex.DecodeString(key)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("invalid public key: %v", err), NUT11ErrCode)
	}
	pubkey, err := btcec.ParsePubKey(hexPubkey)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("invalid public key: %v", err), NUT11ErrCode)
	}
	return pubkey, nil
}

func ParseSignature(signature string) (*schnorr.Signature, error) {
	hexSig, err := hex.DecodeString(signature)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("invalid signature: %v", err), NUT11ErrCode)
	}
	sig, err := schnorr.ParseSignature(hexSig)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("invalid signature: %v", err), NUT11ErrCode)
	}
	return sig, nil
}
