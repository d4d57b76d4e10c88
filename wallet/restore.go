package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/gonuts/cashu"
	"github.com/elnosh/gonuts/cashu/nuts/nut07"
	"github.com/elnosh/gonuts/cashu/nuts/nut09"
	"github.com/elnosh/gonuts/cashu/nuts/nut13"
	"github.com/elnosh/gonuts/crypto"
	"github.com/tyler-smith/go-bip39"
)

// restoreBatchSize is how many blinded messages are sent to a mint's
// /v1/restore endpoint per round, per NUT-09.
const restoreBatchSize = 100

// Restore rebuilds a wallet at walletPath from mnemonic alone, walking
// each mint's keysets and replaying the NUT-13 deterministic secret
// derivation against NUT-09's restore endpoint until it hits three
// consecutive empty batches.
func Restore(walletPath, mnemonic string, mintsToRestore []string) (uint64, error) {
	dbpath := filepath.Join(walletPath, "wallet.db")
	if _, err := os.Stat(dbpath); err == nil {
		return 0, errors.New("wallet already exists")
	}

	if err := os.MkdirAll(walletPath, 0700); err != nil {
		return 0, err
	}

	if !bip39.IsMnemonicValid(mnemonic) {
		return 0, errors.New("invalid mnemonic")
	}

	db, err := InitStorage(walletPath)
	if err != nil {
		return 0, fmt.Errorf("error restoring wallet: %v", err)
	}

	seed := bip39.NewSeed(mnemonic, "")
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return 0, err
	}
	db.SaveMnemonicSeed(mnemonic, seed)

	return restoreFromMnemonic(db, masterKey, mintsToRestore)
}

func restoreFromMnemonic(db interface {
	SaveKeyset(*crypto.WalletKeyset) error
	SaveProofs(cashu.Proofs) error
	IncrementKeysetCounter(string, uint32) error
}, masterKey *hdkeychain.ExtendedKey, mintsToRestore []string) (uint64, error) {

	ctx := context.Background()
	proofsRestored := cashu.Proofs{}

	for _, mint := range mintsToRestore {
		mintInfo, err := GetMintInfo(ctx, mint)
		if err != nil {
			return 0, fmt.Errorf("error getting info from mint '%v': %v", mint, err)
		}

		nut7, ok := mintInfo.Nuts[7].(map[string]interface{})
		nut9, ok2 := mintInfo.Nuts[9].(map[string]interface{})
		if !ok || !ok2 || nut7["supported"] != true || nut9["supported"] != true {
			continue
		}

		keysetsResponse, err := GetAllKeysets(ctx, mint)
		if err != nil {
			return 0, err
		}

		for _, keyset := range keysetsResponse.Keysets {
			if keyset.Unit != cashu.Sat.String() {
				continue
			}
			if _, err := hex.DecodeString(keyset.Id); err != nil {
				continue
			}

			keysetKeys, err := GetKeysetKeys(ctx, mint, keyset.Id)
			if err != nil {
				return 0, err
			}

			walletKeyset := crypto.WalletKeyset{
				Id:          keyset.Id,
				MintURL:     mint,
				Unit:        keyset.Unit,
				Active:      keyset.Active,
				PublicKeys:  keysetKeys,
				InputFeePpk: uint(keyset.InputFeePpk),
			}
			if err := db.SaveKeyset(&walletKeyset); err != nil {
				return 0, err
			}

			keysetPath, err := nut13.DeriveKeysetPath(masterKey, keyset.Id)
			if err != nil {
				return 0, err
			}

			var counter uint32
			emptyBatches := 0
			for emptyBatches < 3 {
				blindedMessages := make(cashu.BlindedMessages, restoreBatchSize)
				rs := make([]*secp256k1.PrivateKey, restoreBatchSize)
				secrets := make([]string, restoreBatchSize)

				for i := 0; i < restoreBatchSize; i++ {
					secret, err := nut13.DeriveSecret(keysetPath, counter)
					if err != nil {
						return 0, err
					}
					r, err := nut13.DeriveBlindingFactor(keysetPath, counter)
					if err != nil {
						return 0, err
					}
					secretBytes, err := hex.DecodeString(secret)
					if err != nil {
						return 0, err
					}
					B_, _, err := crypto.BlindMessage(secretBytes, r)
					if err != nil {
						return 0, err
					}

					blindedMessages[i] = cashu.NewBlindedMessage(keyset.Id, 0, B_)
					rs[i] = r
					secrets[i] = secret
					counter++
				}

				restoreRequest := nut09.PostRestoreRequest{Outputs: blindedMessages}
				restoreResponse, err := PostRestore(ctx, mint, restoreRequest)
				if err != nil {
					return 0, fmt.Errorf("error restoring signatures from mint '%v': %v", mint, err)
				}

				if len(restoreResponse.Signatures) == 0 {
					emptyBatches++
					continue
				}
				emptyBatches = 0

				Ys := make([]string, 0, len(restoreResponse.Signatures))
				batchProofs := make(map[string]cashu.Proof, len(restoreResponse.Signatures))

				// the mint returns restored signatures in request order, so
				// position in the batch ties a signature back to its secret.
				for i, signature := range restoreResponse.Signatures {
					if i >= len(secrets) {
						break
					}
					pubkey, ok := keysetKeys[signature.Amount]
					if !ok {
						return 0, errors.New("mint returned a signature for an amount outside the keyset")
					}
					C_bytes, err := hex.DecodeString(signature.C_)
					if err != nil {
						return 0, err
					}
					C_, err := secp256k1.ParsePubKey(C_bytes)
					if err != nil {
						return 0, err
					}
					C := crypto.UnblindSignature(C_, rs[i], pubkey)

					Y := crypto.HashToCurve([]byte(secrets[i]))
					Yhex := hex.EncodeToString(Y.SerializeCompressed())

					batchProofs[Yhex] = cashu.Proof{
						Amount: signature.Amount,
						Secret: secrets[i],
						C:      hex.EncodeToString(C.SerializeCompressed()),
						Id:     signature.Id,
					}
					Ys = append(Ys, Yhex)
				}

				proofStateResponse, err := PostCheckProofState(ctx, mint, nut07.PostCheckStateRequest{Ys: Ys})
				if err != nil {
					return 0, err
				}

				for _, proofState := range proofStateResponse.States {
					if len(proofState.Witness) > 0 {
						continue
					}
					if proofState.State == nut07.Unspent {
						proofsRestored = append(proofsRestored, batchProofs[proofState.Y])
					}
				}

				if err := db.SaveProofs(proofsRestored); err != nil {
					return 0, fmt.Errorf("error saving restored proofs: %v", err)
				}
				if err := db.IncrementKeysetCounter(keyset.Id, restoreBatchSize); err != nil {
					return 0, fmt.Errorf("error incrementing keyset counter: %v", err)
				}
			}
		}
	}

	return proofsRestored.Amount(), nil
}
