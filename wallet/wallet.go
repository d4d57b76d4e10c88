// Package wallet implements a client-side Cashu ecash wallet: it holds
// proofs, talks to one or more mints over HTTP, and drives the
// mint/swap/melt/receive state machines described across the NUTs.
//
// A Wallet is not safe for concurrent use by multiple goroutines. Each
// instance is meant to be owned and driven by a single caller; callers
// that need concurrent access should serialize it themselves.
package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/gonuts/cashu"
	"github.com/elnosh/gonuts/cashu/nuts/nut01"
	"github.com/elnosh/gonuts/cashu/nuts/nut03"
	"github.com/elnosh/gonuts/cashu/nuts/nut04"
	"github.com/elnosh/gonuts/cashu/nuts/nut05"
	"github.com/elnosh/gonuts/cashu/nuts/nut06"
	"github.com/elnosh/gonuts/cashu/nuts/nut07"
	"github.com/elnosh/gonuts/cashu/nuts/nut10"
	"github.com/elnosh/gonuts/cashu/nuts/nut11"
	"github.com/elnosh/gonuts/cashu/nuts/nut12"
	"github.com/elnosh/gonuts/cashu/nuts/nut13"
	"github.com/elnosh/gonuts/cashu/nuts/nut15"
	"github.com/elnosh/gonuts/cashu/nuts/nut18"
	"github.com/elnosh/gonuts/cashu/nuts/nut19"
	"github.com/elnosh/gonuts/cashu/nuts/nut20"
	"github.com/elnosh/gonuts/cashu/nuts/nut22"
	"github.com/elnosh/gonuts/crypto"
	"github.com/elnosh/gonuts/wallet/storage"
	"github.com/tyler-smith/go-bip39"
)

// meltPollTimeout is the deadline of the context shared by the
// melt-quote and melt requests of one Melt call. Each request is still
// capped at requestTimeout by the client. Melt does not poll: a melt
// the mint reports PENDING is returned as is, its proofs kept pending.
const meltPollTimeout = 300 * time.Second

type Config struct {
	WalletPath     string
	CurrentMintURL string
	// Unit the wallet operates in. Defaults to "sat" when empty.
	Unit string
}

// walletMint tracks what the wallet currently knows about one mint:
// its active keyset (used to build new blinded messages) and any
// keysets that have since been rotated out but may still back unspent
// proofs in storage.
type walletMint struct {
	mintURL         string
	activeKeyset    crypto.WalletKeyset
	inactiveKeysets map[string]crypto.WalletKeyset
	info            *nut06.MintInfo
}

type Wallet struct {
	db        storage.WalletDB
	masterKey *hdkeychain.ExtendedKey
	unit      cashu.Unit

	currentMint string
	mints       map[string]walletMint

	// responseCache replays cached POST /v1/mint, /v1/swap, and
	// /v1/melt responses per NUT-19 so a retried call after a dropped
	// connection can't be charged twice.
	responseCache *nut19.Cache

	// clearAuthToken and blindAuthTokens authenticate requests against
	// mints that protect their endpoints per NUT-21/NUT-22.
	clearAuthToken  string
	blindAuthTokens []string
}

func InitStorage(path string) (storage.WalletDB, error) {
	return storage.InitBolt(path)
}

// LoadWallet opens (or creates) the wallet at config.WalletPath and
// syncs its view of config.CurrentMintURL's keysets.
func LoadWallet(config Config) (*Wallet, error) {
	if err := os.MkdirAll(config.WalletPath, 0700); err != nil {
		return nil, fmt.Errorf("error creating wallet directory: %v", err)
	}

	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	mnemonic := db.GetMnemonic()
	if mnemonic == "" {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, fmt.Errorf("error generating seed entropy: %v", err)
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, fmt.Errorf("error generating mnemonic: %v", err)
		}
		seed := bip39.NewSeed(mnemonic, "")
		db.SaveMnemonicSeed(mnemonic, seed)
	}
	seed := db.GetSeed()

	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("error deriving wallet master key: %v", err)
	}

	unit := cashu.Sat
	if config.Unit != "" && config.Unit != cashu.Sat.String() {
		return nil, cashu.ErrInvalidUnit
	}

	w := &Wallet{
		db:            db,
		masterKey:     masterKey,
		unit:          unit,
		mints:         make(map[string]walletMint),
		responseCache: nut19.NewCache(),
	}

	for mintURL, keysets := range db.GetKeysets() {
		mint := walletMint{mintURL: mintURL, inactiveKeysets: make(map[string]crypto.WalletKeyset)}
		for _, ks := range keysets {
			if ks.Active {
				mint.activeKeyset = ks
			} else {
				mint.inactiveKeysets[ks.Id] = ks
			}
		}
		w.mints[mintURL] = mint
	}

	if config.CurrentMintURL != "" {
		w.currentMint = config.CurrentMintURL
		if err := w.AddMint(context.Background(), config.CurrentMintURL); err != nil {
			return nil, fmt.Errorf("error syncing mint '%v': %v", config.CurrentMintURL, err)
		}
	}

	return w, nil
}

// CurrentMint returns the mint used by RequestMint, and by
// PayPaymentRequest when the request names no mint.
func (w *Wallet) CurrentMint() string {
	return w.currentMint
}

// AddMint registers mintURL with the wallet, fetching and persisting
// its active and inactive keysets. Safe to call again for a mint
// already known; it simply refreshes the cached keyset view.
func (w *Wallet) AddMint(ctx context.Context, mintURL string) error {
	activeKeyset, err := GetMintActiveKeyset(ctx, mintURL, w.unit)
	if err != nil {
		return fmt.Errorf("error getting active keyset from mint: %v", err)
	}

	inactiveKeysets, err := GetMintInactiveKeysets(ctx, mintURL, w.unit)
	if err != nil {
		return fmt.Errorf("error getting inactive keysets from mint: %v", err)
	}

	info, err := GetMintInfo(ctx, mintURL)
	if err != nil {
		return fmt.Errorf("error getting info from mint: %v", err)
	}

	if existing := w.db.GetKeyset(activeKeyset.Id); existing == nil {
		if err := w.db.SaveKeyset(activeKeyset); err != nil {
			return err
		}
	}
	for id, ks := range inactiveKeysets {
		if existing := w.db.GetKeyset(id); existing == nil {
			ks := ks
			if err := w.db.SaveKeyset(&ks); err != nil {
				return err
			}
		}
	}

	w.mints[mintURL] = walletMint{
		mintURL:         mintURL,
		activeKeyset:    *activeKeyset,
		inactiveKeysets: inactiveKeysets,
		info:            info,
	}
	return nil
}

// cacheFor returns the response cache to use against mintURL, or nil
// if that mint never advertised NUT-19 support.
func (w *Wallet) cacheFor(mintURL string) *nut19.Cache {
	mint, ok := w.mints[mintURL]
	if !ok {
		return nil
	}
	if _, supported := nut19.ParseSettings(mint.info); !supported {
		return nil
	}
	return w.responseCache
}

// SetClearAuthToken stores the NUT-21 access token this wallet
// presents to mints that protect their endpoints.
func (w *Wallet) SetClearAuthToken(token string) {
	w.clearAuthToken = token
}

// MintBlindAuthTokens exchanges the wallet's clear-auth token for
// count fresh NUT-22 blind-auth tokens it can spend one at a time on
// later protected requests, without round-tripping the clear-auth
// token on every call.
func (w *Wallet) MintBlindAuthTokens(mintURL string, count int) error {
	if w.clearAuthToken == "" {
		return errors.New("wallet has no clear-auth token configured")
	}
	mint, ok := w.mints[mintURL]
	if !ok {
		return fmt.Errorf("mint '%v' is not known to this wallet", mintURL)
	}

	blindedMessages := make(cashu.BlindedMessages, count)
	secrets := make([]string, count)
	rs := make([]*secp256k1.PrivateKey, count)
	for i := 0; i < count; i++ {
		secret, r, B_, err := newRandomBlindedMessage()
		if err != nil {
			return err
		}
		blindedMessages[i] = cashu.NewBlindedMessage(mint.activeKeyset.Id, 0, B_)
		secrets[i] = secret
		rs[i] = r
	}

	request := nut22.PostAuthBlindMintRequest{Outputs: blindedMessages}
	response, err := PostAuthBlindMint(context.Background(), mintURL, request, WithClearAuth(w.clearAuthToken))
	if err != nil {
		return err
	}

	proofs, err := ConstructProofs(response.Signatures, secrets, rs, &mint.activeKeyset)
	if err != nil {
		return fmt.Errorf("error constructing blind-auth tokens: %v", err)
	}

	for _, p := range proofs {
		token, err := json.Marshal(p)
		if err != nil {
			continue
		}
		w.blindAuthTokens = append(w.blindAuthTokens, string(token))
	}
	return nil
}

// popBlindAuthToken removes and returns one unspent blind-auth token,
// since NUT-22 requires each one be used at most once.
func (w *Wallet) popBlindAuthToken() (string, bool) {
	if len(w.blindAuthTokens) == 0 {
		return "", false
	}
	token := w.blindAuthTokens[len(w.blindAuthTokens)-1]
	w.blindAuthTokens = w.blindAuthTokens[:len(w.blindAuthTokens)-1]
	return token, true
}

// authOptions attaches whatever auth credentials the wallet currently
// holds to an outgoing request: a standing clear-auth token, plus one
// blind-auth token if available.
func (w *Wallet) authOptions() []requestOption {
	var opts []requestOption
	if w.clearAuthToken != "" {
		opts = append(opts, WithClearAuth(w.clearAuthToken))
	}
	if token, ok := w.popBlindAuthToken(); ok {
		opts = append(opts, WithBlindAuth(token))
	}
	return opts
}

// Balance returns the sum of all unspent proofs the wallet holds,
// across every mint it knows about.
func (w *Wallet) Balance() uint64 {
	return w.db.GetProofs().Amount()
}

// MintBalance returns the unspent balance held in keysets issued by
// mintURL.
func (w *Wallet) MintBalance(mintURL string) uint64 {
	var total uint64
	mint, ok := w.mints[mintURL]
	if !ok {
		return 0
	}
	ids := map[string]bool{mint.activeKeyset.Id: true}
	for id := range mint.inactiveKeysets {
		ids[id] = true
	}
	for _, proof := range w.db.GetProofs() {
		if ids[proof.Id] {
			total += proof.Amount
		}
	}
	return total
}

// ProofSelectionStrategy controls which mint Send/Melt draw proofs
// from when more than one mint can cover the requested amount.
type ProofSelectionStrategy int

const (
	// MinimizeFees prefers the mint whose keysets have the lowest
	// input_fee_ppk, reducing the fee paid on the resulting swap.
	MinimizeFees ProofSelectionStrategy = iota
	// MinimizeMints prefers the single mint that alone can cover the
	// amount, keeping token history concentrated in one place.
	MinimizeMints
	// BalanceLoad prefers the mint with the largest available balance,
	// spreading spend pressure roughly evenly across known mints.
	BalanceLoad
	// PrioritizeReliability prefers the wallet's configured current
	// mint, falling back to others only if it cannot cover the amount.
	PrioritizeReliability
)

// SelectMint picks which known mint to draw amount from under
// strategy. Returns an error if no single mint's balance covers it.
func (w *Wallet) SelectMint(amount uint64, strategy ProofSelectionStrategy) (string, error) {
	type candidate struct {
		mintURL     string
		balance     uint64
		inputFeePpk uint
	}

	var candidates []candidate
	for mintURL, mint := range w.mints {
		bal := w.MintBalance(mintURL)
		if bal >= amount {
			candidates = append(candidates, candidate{mintURL, bal, mint.activeKeyset.InputFeePpk})
		}
	}
	if len(candidates) == 0 {
		return "", errors.New("no known mint has sufficient balance for this amount")
	}

	switch strategy {
	case PrioritizeReliability:
		for _, c := range candidates {
			if c.mintURL == w.currentMint {
				return c.mintURL, nil
			}
		}
		fallthrough
	case MinimizeMints:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.balance > best.balance {
				best = c
			}
		}
		return best.mintURL, nil
	case BalanceLoad:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.balance > best.balance {
				best = c
			}
		}
		return best.mintURL, nil
	case MinimizeFees:
		fallthrough
	default:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.inputFeePpk < best.inputFeePpk {
				best = c
			}
		}
		return best.mintURL, nil
	}
}

// RequestMint asks the current mint for a bolt11 invoice to mint
// amount in the wallet's unit.
func (w *Wallet) RequestMint(amount uint64) (*nut04.PostMintQuoteBolt11Response, error) {
	if w.currentMint == "" {
		return nil, errors.New("wallet has no current mint configured")
	}
	return w.RequestMintFromMint(amount, w.currentMint)
}

func (w *Wallet) RequestMintFromMint(amount uint64, mintURL string) (*nut04.PostMintQuoteBolt11Response, error) {
	return w.requestMintQuote(amount, mintURL, false)
}

// RequestLockedMintQuote is like RequestMintFromMint but asks the mint
// to lock the quote to a fresh wallet-held pubkey (NUT-20). MintTokens
// signs the mint request with the matching private key, so only this
// wallet can ever redeem the quote once it's paid.
func (w *Wallet) RequestLockedMintQuote(amount uint64, mintURL string) (*nut04.PostMintQuoteBolt11Response, error) {
	return w.requestMintQuote(amount, mintURL, true)
}

func (w *Wallet) requestMintQuote(amount uint64, mintURL string, locked bool) (*nut04.PostMintQuoteBolt11Response, error) {
	ctx := context.Background()
	request := nut04.PostMintQuoteBolt11Request{Amount: amount, Unit: w.unit.String()}

	var privateKey *secp256k1.PrivateKey
	if locked {
		var err error
		privateKey, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("error generating quote locking key: %v", err)
		}
		request.Pubkey = hex.EncodeToString(privateKey.PubKey().SerializeCompressed())
	}

	response, err := PostMintQuoteBolt11(ctx, mintURL, request, w.authOptions()...)
	if err != nil {
		return nil, err
	}

	quote := storage.MintQuote{
		QuoteId:        response.Quote,
		Mint:           mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          response.State,
		Unit:           w.unit.String(),
		PaymentRequest: response.Request,
		Amount:         amount,
		CreatedAt:      nowUnix(),
		QuoteExpiry:    uint64(response.Expiry),
		PrivateKey:     privateKey,
	}
	if err := w.db.SaveMintQuote(quote); err != nil {
		return nil, fmt.Errorf("error saving mint quote: %v", err)
	}

	return response, nil
}

// MintQuoteState polls the mint for the current state of a mint
// quote, persisting the transition locally.
func (w *Wallet) MintQuoteState(quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	storedQuote := w.db.GetMintQuoteById(quoteId)
	if storedQuote == nil {
		return nil, errors.New("mint quote not found")
	}

	response, err := GetMintQuoteState(context.Background(), storedQuote.Mint, quoteId)
	if err != nil {
		return nil, err
	}

	if response.State != storedQuote.State {
		storedQuote.State = response.State
		if response.State == nut04.Paid {
			storedQuote.SettledAt = nowUnix()
		}
		if err := w.db.SaveMintQuote(*storedQuote); err != nil {
			return nil, err
		}
	}

	return response, nil
}

// MintTokens exchanges a paid mint quote for a freshly blind-signed
// set of proofs, using the BIP-32 deterministic derivation from NUT-13
// so the proofs can be recovered later from the seed alone.
func (w *Wallet) MintTokens(quoteId string) (cashu.Proofs, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, errors.New("mint quote not found")
	}

	mint, ok := w.mints[quote.Mint]
	if !ok {
		return nil, fmt.Errorf("mint '%v' is not known to this wallet", quote.Mint)
	}
	activeKeyset := mint.activeKeyset

	blindedMessages, secrets, rs, err := w.createDeterministicBlindedMessages(quote.Amount, &activeKeyset)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	request := nut04.PostMintBolt11Request{Quote: quoteId, Outputs: blindedMessages}
	if quote.PrivateKey != nil {
		signature, err := nut20.SignMintQuote(quote.PrivateKey, quoteId, blindedMessages)
		if err != nil {
			return nil, fmt.Errorf("error signing mint quote: %v", err)
		}
		request.Signature = signature
	}

	response, err := PostMintBolt11(context.Background(), quote.Mint, request, w.cacheFor(quote.Mint), w.authOptions()...)
	if err != nil {
		return nil, err
	}

	proofs, err := ConstructProofs(response.Signatures, secrets, rs, &activeKeyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing proofs: %v", err)
	}

	if !nut12.VerifyProofsDLEQ(proofs, activeKeyset) {
		return nil, errors.New("mint returned an invalid DLEQ proof")
	}

	if err := w.db.SaveProofs(proofs); err != nil {
		return nil, fmt.Errorf("error storing minted proofs: %v", err)
	}

	quote.State = nut04.Issued
	if err := w.db.SaveMintQuote(*quote); err != nil {
		return nil, err
	}

	return proofs, nil
}

// Send selects amount worth of proofs from mintURL, swapping for an
// exact-denomination set if the stored proofs don't add up exactly,
// and returns proofs ready to hand to cashu.NewTokenV3/NewTokenV4.
func (w *Wallet) Send(amount uint64, mintURL string, includeFees bool) (cashu.Proofs, error) {
	mint, ok := w.mints[mintURL]
	if !ok {
		return nil, fmt.Errorf("mint '%v' is not known to this wallet", mintURL)
	}

	available := w.db.GetProofsByKeysetId(mint.activeKeyset.Id)
	for id := range mint.inactiveKeysets {
		available = append(available, w.db.GetProofsByKeysetId(id)...)
	}

	target := amount
	if includeFees {
		target += estimateInputFee(available, amount, mint)
	}

	selected, exact, err := selectProofsForAmount(available, target)
	if err != nil {
		return nil, err
	}
	if exact {
		for _, p := range selected {
			if err := w.db.DeleteProof(p.Secret); err != nil {
				return nil, err
			}
		}
		return selected, nil
	}

	sendProofs, changeProofs, err := w.swapForExactAmount(context.Background(), mintURL, selected, amount)
	if err != nil {
		return nil, err
	}

	for _, p := range selected {
		if err := w.db.DeleteProof(p.Secret); err != nil {
			return nil, err
		}
	}
	if err := w.db.SaveProofs(changeProofs); err != nil {
		return nil, err
	}

	return sendProofs, nil
}

// Receive claims the proofs in token. If swapToTrustedMint is true (or
// the token's mint is unknown to the wallet) it immediately swaps the
// proofs at the issuing mint for freshly blinded ones, so a malicious
// sender cannot hand over a token whose proofs are later double-spent
// elsewhere. It returns the amount actually claimed.
func (w *Wallet) Receive(token cashu.Token, swapToTrustedMint bool) (uint64, error) {
	proofs := token.Proofs()
	if len(proofs) == 0 {
		return 0, cashu.ErrEmptyProofList
	}
	if cashu.CheckDuplicateProofs(proofs) {
		return 0, cashu.DuplicateProofs
	}

	mintURL := token.Mint()
	ctx := context.Background()
	if _, known := w.mints[mintURL]; !known {
		if err := w.AddMint(ctx, mintURL); err != nil {
			return 0, fmt.Errorf("error adding mint '%v': %v", mintURL, err)
		}
		swapToTrustedMint = true
	}
	mint := w.mints[mintURL]

	if !nut12.VerifyProofsDLEQ(proofs, mint.activeKeyset) {
		return 0, errors.New("received proofs carry an invalid DLEQ proof")
	}

	if !swapToTrustedMint {
		if err := w.db.SaveProofs(proofs); err != nil {
			return 0, err
		}
		return token.Amount(), nil
	}

	blindedMessages, secrets, rs, err := w.createRandomBlindedMessages(token.Amount(), &mint.activeKeyset)
	if err != nil {
		return 0, fmt.Errorf("error creating blinded messages: %v", err)
	}

	swapRequest := nut03.PostSwapRequest{Inputs: proofs, Outputs: blindedMessages}
	swapResponse, err := PostSwap(ctx, mintURL, swapRequest, w.cacheFor(mintURL), w.authOptions()...)
	if err != nil {
		return 0, err
	}

	newProofs, err := ConstructProofs(swapResponse.Signatures, secrets, rs, &mint.activeKeyset)
	if err != nil {
		return 0, fmt.Errorf("error constructing proofs: %v", err)
	}
	for i := range newProofs {
		nut12.StripDLEQR(&newProofs[i])
	}

	if err := w.db.SaveProofs(newProofs); err != nil {
		return 0, err
	}

	return newProofs.Amount(), nil
}

// ReceiveLocked claims a P2PK-locked token by attaching a signature
// witness made with signingKey to each proof before swapping it at the
// mint. No HTLC preimage is attached.
func (w *Wallet) ReceiveLocked(token cashu.Token, signingKey *btcec.PrivateKey) (uint64, error) {
	proofs := token.Proofs()
	signed, err := nut11.AddSignatureToInputs(proofs, signingKey)
	if err != nil {
		return 0, fmt.Errorf("error signing locked proofs: %v", err)
	}
	return w.Receive(newProofsToken(signed, token), true)
}

// newProofsToken rebuilds a Token with a different proof set but the
// same mint, used after attaching spending-condition witnesses. The
// rebuilt token is always in the sat unit.
func newProofsToken(proofs cashu.Proofs, original cashu.Token) cashu.Token {
	t, _ := cashu.NewTokenV4(proofs, original.Mint(), cashu.Sat, true)
	return t
}

// Mints lists the mints this wallet has added and holds keysets for.
func (w *Wallet) Mints() []string {
	mints := make([]string, 0, len(w.mints))
	for url := range w.mints {
		mints = append(mints, url)
	}
	return mints
}

// TrustedMints is an alias for Mints, kept for callers that think of
// "known" and "trusted" as the same thing for a single-wallet client.
func (w *Wallet) TrustedMints() []string {
	return w.Mints()
}

// GetBalanceByMints returns the unspent balance held at each known mint.
func (w *Wallet) GetBalanceByMints() map[string]uint64 {
	balances := make(map[string]uint64, len(w.mints))
	for url := range w.mints {
		balances[url] = w.MintBalance(url)
	}
	return balances
}

// ReceivePubkey returns the public key this wallet derives for receiving
// P2PK-locked ecash, per NUT-11's m/129372'/0'/1'/0 derivation path.
func (w *Wallet) ReceivePubkey() (*btcec.PublicKey, error) {
	key, err := DeriveP2PK(w.masterKey)
	if err != nil {
		return nil, err
	}
	return key.PubKey(), nil
}

// SendToPubkey swaps proofs at mintURL for a set locked to pubkey, so
// only the holder of the matching private key can later redeem them.
func (w *Wallet) SendToPubkey(amount uint64, mintURL string, pubkey *btcec.PublicKey, includeFees bool) (cashu.Proofs, error) {
	mint, ok := w.mints[mintURL]
	if !ok {
		return nil, fmt.Errorf("mint '%v' is not known to this wallet", mintURL)
	}

	available := w.db.GetProofsByKeysetId(mint.activeKeyset.Id)
	for id := range mint.inactiveKeysets {
		available = append(available, w.db.GetProofsByKeysetId(id)...)
	}

	target := amount
	if includeFees {
		target += estimateInputFee(available, amount, mint)
	}

	selected, _, err := selectProofsForAmount(available, target)
	if err != nil {
		return nil, err
	}
	changeAmount := selected.Amount() - amount

	sendMessages, sendSecrets, sendRs, err := w.createLockedBlindedMessages(amount, &mint.activeKeyset, pubkey)
	if err != nil {
		return nil, err
	}
	changeMessages, changeSecrets, changeRs, err := w.createDeterministicBlindedMessages(changeAmount, &mint.activeKeyset)
	if err != nil {
		return nil, err
	}

	outputs := append(cashu.BlindedMessages{}, sendMessages...)
	outputs = append(outputs, changeMessages...)
	secrets := append(append([]string{}, sendSecrets...), changeSecrets...)
	rs := append(append([]*secp256k1.PrivateKey{}, sendRs...), changeRs...)

	ctx := context.Background()
	swapResponse, err := PostSwap(ctx, mintURL, nut03.PostSwapRequest{Inputs: selected, Outputs: outputs}, w.cacheFor(mintURL), w.authOptions()...)
	if err != nil {
		return nil, err
	}

	allProofs, err := ConstructProofs(swapResponse.Signatures, secrets, rs, &mint.activeKeyset)
	if err != nil {
		return nil, err
	}

	sendSet := make(map[string]bool, len(sendSecrets))
	for _, s := range sendSecrets {
		sendSet[s] = true
	}
	var send, change cashu.Proofs
	for _, p := range allProofs {
		if sendSet[p.Secret] {
			send = append(send, p)
		} else {
			change = append(change, p)
		}
	}

	for _, p := range selected {
		if err := w.db.DeleteProof(p.Secret); err != nil {
			return nil, err
		}
	}
	if err := w.db.SaveProofs(change); err != nil {
		return nil, err
	}

	return send, nil
}

// MeltQuoteState polls the mint for the current state of a melt quote.
func (w *Wallet) MeltQuoteState(mintURL, quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	return GetMeltQuoteState(context.Background(), mintURL, quoteId)
}

// Melt pays a bolt11 invoice out of the wallet's balance at mintURL.
// Input proofs beyond the invoice amount and fee reserve are returned
// as blank outputs the mint signs for change if it overpaid the
// routing fee (NUT-08).
func (w *Wallet) Melt(invoice, mintURL string) (*nut05.PostMeltBolt11Response, error) {
	return w.melt(invoice, mintURL, 0)
}

// MeltMPP is like Melt but asks mintURL to pay only amountMsat of the
// invoice, per NUT-15. The mint must advertise NUT-15 support for the
// wallet's unit or the request fails; paying the remainder at another
// mint is left to the caller.
func (w *Wallet) MeltMPP(invoice, mintURL string, amountMsat uint64) (*nut05.PostMeltBolt11Response, error) {
	mint, ok := w.mints[mintURL]
	if !ok {
		return nil, fmt.Errorf("mint '%v' is not known to this wallet", mintURL)
	}
	if !nut15.IsMppSupported(mint.info, w.unit) {
		return nil, fmt.Errorf("mint '%v' does not support multi-path payments for unit '%v'", mintURL, w.unit)
	}
	return w.melt(invoice, mintURL, amountMsat)
}

func (w *Wallet) melt(invoice, mintURL string, amountMsat uint64) (*nut05.PostMeltBolt11Response, error) {
	mint, ok := w.mints[mintURL]
	if !ok {
		return nil, fmt.Errorf("mint '%v' is not known to this wallet", mintURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), meltPollTimeout)
	defer cancel()

	quoteRequest := nut05.PostMeltQuoteBolt11Request{Request: invoice, Unit: w.unit.String()}
	if amountMsat > 0 {
		quoteRequest.Options = &nut05.PostMeltQuoteOptions{Mpp: &nut05.MppOptions{AmountMsat: amountMsat}}
	}
	quoteResponse, err := PostMeltQuoteBolt11(ctx, mintURL, quoteRequest, w.authOptions()...)
	if err != nil {
		return nil, err
	}

	amountNeeded := quoteResponse.Amount + quoteResponse.FeeReserve
	proofs, exact, err := selectProofsForAmount(w.db.GetProofsByKeysetId(mint.activeKeyset.Id), amountNeeded)
	if err != nil {
		return nil, err
	}
	_ = exact

	if err := w.db.AddPendingProofsByQuoteId(proofs, quoteResponse.Quote); err != nil {
		return nil, err
	}
	for _, p := range proofs {
		w.db.DeleteProof(p.Secret)
	}

	// blank outputs for overpaid routing fee change, per NUT-08; one
	// blank output per bit of the max possible fee reserve covers any
	// change amount the mint could return.
	blankCount := blankOutputCount(quoteResponse.FeeReserve)
	var blanks cashu.BlindedMessages
	var blankSecrets []string
	var blankRs []*secp256k1.PrivateKey
	if blankCount > 0 {
		blanks = make(cashu.BlindedMessages, blankCount)
		blankSecrets = make([]string, blankCount)
		blankRs = make([]*secp256k1.PrivateKey, blankCount)
		for i := 0; i < blankCount; i++ {
			secret, r, B_, err := newRandomBlindedMessage()
			if err != nil {
				return nil, err
			}
			blanks[i] = cashu.NewBlindedMessage(mint.activeKeyset.Id, 0, B_)
			blankSecrets[i] = secret
			blankRs[i] = r
		}
	}

	meltRequest := nut05.PostMeltBolt11Request{Quote: quoteResponse.Quote, Inputs: proofs, Outputs: blanks}
	meltResponse, err := PostMeltBolt11(ctx, mintURL, meltRequest, w.cacheFor(mintURL), w.authOptions()...)
	if err != nil {
		w.db.DeletePendingProofsByQuoteId(quoteResponse.Quote)
		if rerr := w.db.SaveProofs(proofs); rerr != nil {
			return nil, fmt.Errorf("melt request failed (%v) and proofs could not be restored: %v", err, rerr)
		}
		return nil, err
	}

	meltQuote := storage.MeltQuote{
		QuoteId:        quoteResponse.Quote,
		Mint:           mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          meltResponse.State,
		Unit:           w.unit.String(),
		PaymentRequest: invoice,
		Amount:         quoteResponse.Amount,
		FeeReserve:     quoteResponse.FeeReserve,
		Preimage:       meltResponse.PaymentPreimage,
		CreatedAt:      nowUnix(),
	}

	switch meltResponse.State {
	case nut05.Paid:
		meltQuote.SettledAt = nowUnix()
		w.db.DeletePendingProofsByQuoteId(quoteResponse.Quote)

		if len(meltResponse.Change) > 0 && len(blankSecrets) > 0 {
			changeSecrets := blankSecrets[:len(meltResponse.Change)]
			changeRs := blankRs[:len(meltResponse.Change)]
			changeProofs, err := ConstructProofs(meltResponse.Change, changeSecrets, changeRs, &mint.activeKeyset)
			if err == nil {
				w.db.SaveProofs(changeProofs)
			}
		}
	case nut05.Pending:
		// leave proofs pending; caller should poll MeltQuoteState later
	default:
		w.db.DeletePendingProofsByQuoteId(quoteResponse.Quote)
		w.db.SaveProofs(proofs)
	}

	if err := w.db.SaveMeltQuote(meltQuote); err != nil {
		return nil, err
	}

	return meltResponse, nil
}

// CreatePaymentRequest builds a NUT-18 payment request asking for
// amount in the wallet's unit, locked to this wallet's own receiving
// pubkey so only it can redeem whatever proofs a payer sends back.
// The caller delivers the encoded request over whatever transport it
// names; mintURL restricts which mint the payer may use, or may be
// left empty to accept any.
func (w *Wallet) CreatePaymentRequest(amount uint64, mintURL, memo string, singleUse bool) (string, error) {
	pubkey, err := w.ReceivePubkey()
	if err != nil {
		return "", fmt.Errorf("error deriving receiving pubkey: %v", err)
	}

	var mints []string
	if mintURL != "" {
		mints = []string{mintURL}
	}

	pubkeyHex := hex.EncodeToString(pubkey.SerializeCompressed())
	request := nut18.PaymentRequest{
		Amount:    amount,
		Unit:      w.unit.String(),
		SingleUse: singleUse,
		Mints:     mints,
		Memo:      memo,
		Transports: []nut18.Transport{
			{Type: nut18.TransportNostr, Target: pubkeyHex},
		},
		SpendingConditions: &nut10.SpendingCondition{
			Kind: nut10.P2PK,
			Data: pubkeyHex,
		},
	}

	return request.Encode()
}

// PayPaymentRequest decodes a NUT-18 payment request and sends proofs
// covering it, at whichever mint the wallet and the request agree on,
// locked to the request's NUT-10 spending condition if it names one.
// It's the caller's job to deliver the resulting proofs over the
// request's named transport.
func (w *Wallet) PayPaymentRequest(encodedRequest string, includeFees bool) (cashu.Proofs, error) {
	request, err := nut18.DecodePaymentRequest(encodedRequest)
	if err != nil {
		return nil, fmt.Errorf("error decoding payment request: %v", err)
	}
	if request.Unit != "" && request.Unit != w.unit.String() {
		return nil, fmt.Errorf("payment request wants unit '%v' but wallet operates in '%v'", request.Unit, w.unit)
	}

	mintURL, err := w.paymentRequestMint(request)
	if err != nil {
		return nil, err
	}

	if request.SpendingConditions != nil && request.SpendingConditions.Kind == nut10.P2PK {
		pubkey, err := nut11.ParsePublicKey(request.SpendingConditions.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid P2PK pubkey in payment request: %v", err)
		}
		return w.SendToPubkey(request.Amount, mintURL, pubkey, includeFees)
	}

	return w.Send(request.Amount, mintURL, includeFees)
}

func (w *Wallet) paymentRequestMint(request *nut18.PaymentRequest) (string, error) {
	if len(request.Mints) == 0 {
		if w.currentMint == "" {
			return "", errors.New("payment request doesn't name a mint and wallet has no current mint configured")
		}
		return w.currentMint, nil
	}
	for _, m := range request.Mints {
		if _, ok := w.mints[m]; ok {
			return m, nil
		}
	}
	return "", fmt.Errorf("wallet doesn't hold balance at any mint the payment request allows: %v", request.Mints)
}

// CheckProofStates asks the mint whether proofs (identified by Y) are
// still unspent, used after a crash to reconcile pending state.
func (w *Wallet) CheckProofStates(mintURL string, proofs cashu.Proofs) (*nut07.PostCheckStateResponse, error) {
	Ys := make([]string, len(proofs))
	for i, p := range proofs {
		Y := crypto.HashToCurve([]byte(p.Secret))
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}
	return PostCheckProofState(context.Background(), mintURL, nut07.PostCheckStateRequest{Ys: Ys})
}

// Restore replays a mint's deterministic secret derivation (NUT-09)
// to recover proofs for a wallet whose storage was lost but whose
// mnemonic is known.
func (w *Wallet) Restore(mintsToRestore []string) (uint64, error) {
	return restoreFromMnemonic(w.db, w.masterKey, mintsToRestore)
}

func nowUnix() int64 {
	return time.Now().Unix()
}

func blankOutputCount(feeReserve uint64) int {
	if feeReserve == 0 {
		return 0
	}
	count := 0
	for amt := feeReserve; amt > 0; amt >>= 1 {
		count++
	}
	return count
}

func newRandomBlindedMessage() (secret string, r *secp256k1.PrivateKey, B_ *secp256k1.PublicKey, err error) {
	secretBytes := make([]byte, 32)
	if _, err = rand.Read(secretBytes); err != nil {
		return
	}
	secret = hex.EncodeToString(secretBytes)

	r, err = secp256k1.GeneratePrivateKey()
	if err != nil {
		return
	}

	B_, _, err = crypto.BlindMessage([]byte(secret), r)
	return
}

func (w *Wallet) createRandomBlindedMessages(amount uint64, keyset *crypto.WalletKeyset) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	splitAmounts := cashu.AmountSplit(amount)
	blindedMessages := make(cashu.BlindedMessages, len(splitAmounts))
	secrets := make([]string, len(splitAmounts))
	rs := make([]*secp256k1.PrivateKey, len(splitAmounts))

	for i, amt := range splitAmounts {
		secret, r, B_, err := newRandomBlindedMessage()
		if err != nil {
			return nil, nil, nil, err
		}
		blindedMessages[i] = cashu.NewBlindedMessage(keyset.Id, amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

// createLockedBlindedMessages builds outputs whose secrets encode a
// P2PK spending condition for pubkey, per NUT-11. Unlike the
// deterministic and random variants, these secrets are never derived
// from the wallet's own seed, since their lock is what makes them
// spendable only by pubkey's holder.
func (w *Wallet) createLockedBlindedMessages(amount uint64, keyset *crypto.WalletKeyset, pubkey *btcec.PublicKey) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	pubkeyHex := hex.EncodeToString(pubkey.SerializeCompressed())
	splitAmounts := cashu.AmountSplit(amount)
	blindedMessages := make(cashu.BlindedMessages, len(splitAmounts))
	secrets := make([]string, len(splitAmounts))
	rs := make([]*secp256k1.PrivateKey, len(splitAmounts))

	for i, amt := range splitAmounts {
		secret, err := nut11.P2PKSecret(pubkeyHex)
		if err != nil {
			return nil, nil, nil, err
		}
		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, nil, err
		}
		B_, _, err := crypto.BlindMessage([]byte(secret), r)
		if err != nil {
			return nil, nil, nil, err
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keyset.Id, amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

// createDeterministicBlindedMessages derives secrets and blinding
// factors from the wallet's seed per NUT-13, advancing and persisting
// the keyset's counter so the same outputs are never produced twice.
func (w *Wallet) createDeterministicBlindedMessages(amount uint64, keyset *crypto.WalletKeyset) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, keyset.Id)
	if err != nil {
		return nil, nil, nil, err
	}

	counter := w.db.GetKeysetCounter(keyset.Id)
	splitAmounts := cashu.AmountSplit(amount)
	blindedMessages := make(cashu.BlindedMessages, len(splitAmounts))
	secrets := make([]string, len(splitAmounts))
	rs := make([]*secp256k1.PrivateKey, len(splitAmounts))

	for i, amt := range splitAmounts {
		secret, err := nut13.DeriveSecret(keysetPath, counter)
		if err != nil {
			return nil, nil, nil, err
		}
		r, err := nut13.DeriveBlindingFactor(keysetPath, counter)
		if err != nil {
			return nil, nil, nil, err
		}

		secretBytes, err := hex.DecodeString(secret)
		if err != nil {
			return nil, nil, nil, err
		}
		B_, _, err := crypto.BlindMessage(secretBytes, r)
		if err != nil {
			return nil, nil, nil, err
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keyset.Id, amt, B_)
		secrets[i] = secret
		rs[i] = r
		counter++
	}

	if err := w.db.IncrementKeysetCounter(keyset.Id, uint32(len(splitAmounts))); err != nil {
		return nil, nil, nil, err
	}

	return blindedMessages, secrets, rs, nil
}

// ConstructProofs unblinds a mint's signatures into spendable proofs
// and attaches the DLEQ proof it returned, if any.
func ConstructProofs(signatures cashu.BlindedSignatures, secrets []string, rs []*secp256k1.PrivateKey,
	keyset *crypto.WalletKeyset) (cashu.Proofs, error) {

	if len(signatures) != len(secrets) || len(signatures) != len(rs) {
		return nil, errors.New("signatures, secrets and blinding factors must have the same length")
	}

	proofs := make(cashu.Proofs, len(signatures))
	for i, sig := range signatures {
		C_bytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			return nil, err
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, err
		}

		K, ok := keyset.PublicKeys[sig.Amount]
		if !ok {
			return nil, fmt.Errorf("keyset '%v' has no key for amount %v", keyset.Id, sig.Amount)
		}

		C := crypto.UnblindSignature(C_, rs[i], K)
		proof := cashu.Proof{
			Amount: sig.Amount,
			Id:     sig.Id,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
		if sig.DLEQ != nil {
			proof.DLEQ = nut12.NewDLEQ(&crypto.DLEQProof{
				E: mustPrivKey(sig.DLEQ.E),
				S: mustPrivKey(sig.DLEQ.S),
			}, rs[i])
		}
		proofs[i] = proof
	}

	return proofs, nil
}

func mustPrivKey(hexStr string) *secp256k1.PrivateKey {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil
	}
	return secp256k1.PrivKeyFromBytes(b)
}

// selectProofsForAmount greedily picks proofs from available summing
// to at least amount, preferring fewer, larger proofs. exact reports
// whether the selection sums to precisely amount (no swap needed).
func selectProofsForAmount(available cashu.Proofs, amount uint64) (selected cashu.Proofs, exact bool, err error) {
	if available.Amount() < amount {
		return nil, false, errors.New("not enough funds")
	}

	sorted := make(cashu.Proofs, len(available))
	copy(sorted, available)
	for i := 0; i < len(sorted)-1; i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Amount > sorted[i].Amount {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	var total uint64
	for _, p := range sorted {
		if total >= amount {
			break
		}
		selected = append(selected, p)
		total += p.Amount
	}

	return selected, total == amount, nil
}

func estimateInputFee(available cashu.Proofs, amount uint64, mint walletMint) uint64 {
	selected, _, err := selectProofsForAmount(available, amount)
	if err != nil {
		return 0
	}
	ppks := make([]uint64, len(selected))
	for i := range selected {
		ppks[i] = uint64(mint.activeKeyset.InputFeePpk)
	}
	return crypto.Fee(ppks)
}

// swapForExactAmount exchanges selected (which sums to more than
// amount) for a proof set split exactly into amount-to-send and
// change, so Send never hands over more than the caller asked for.
func (w *Wallet) swapForExactAmount(ctx context.Context, mintURL string, selected cashu.Proofs, amount uint64) (
	send cashu.Proofs, change cashu.Proofs, err error) {

	mint := w.mints[mintURL]
	changeAmount := selected.Amount() - amount

	sendMessages, sendSecrets, sendRs, err := w.createDeterministicBlindedMessages(amount, &mint.activeKeyset)
	if err != nil {
		return nil, nil, err
	}
	changeMessages, changeSecrets, changeRs, err := w.createDeterministicBlindedMessages(changeAmount, &mint.activeKeyset)
	if err != nil {
		return nil, nil, err
	}

	outputs := append(cashu.BlindedMessages{}, sendMessages...)
	outputs = append(outputs, changeMessages...)
	secrets := append(append([]string{}, sendSecrets...), changeSecrets...)
	rs := append(append([]*secp256k1.PrivateKey{}, sendRs...), changeRs...)
	cashu.SortBlindedMessages(outputs, secrets, rs)

	swapResponse, err := PostSwap(ctx, mintURL, nut03.PostSwapRequest{Inputs: selected, Outputs: outputs}, w.cacheFor(mintURL), w.authOptions()...)
	if err != nil {
		return nil, nil, err
	}

	allProofs, err := ConstructProofs(swapResponse.Signatures, secrets, rs, &mint.activeKeyset)
	if err != nil {
		return nil, nil, err
	}

	sendSet := make(map[string]bool, len(sendSecrets))
	for _, s := range sendSecrets {
		sendSet[s] = true
	}
	for _, p := range allProofs {
		if sendSet[p.Secret] {
			send = append(send, p)
		} else {
			change = append(change, p)
		}
	}

	return send, change, nil
}

// GetMintInfo fetches and returns a mint's published capabilities.
func (w *Wallet) GetMintInfo(mintURL string) (*nut06.MintInfo, error) {
	return GetMintInfo(context.Background(), mintURL)
}

// GetActiveKeys returns the raw NUT-01 key response for a mint,
// mainly useful for wallets that want to display/verify keysets
// independently of the ones the Wallet itself caches.
func (w *Wallet) GetActiveKeys(mintURL string) (*nut01.GetKeysResponse, error) {
	return GetActiveKeysets(context.Background(), mintURL)
}

func (w *Wallet) Mnemonic() string {
	return w.db.GetMnemonic()
}

func (w *Wallet) Close() error {
	return w.db.Close()
}
