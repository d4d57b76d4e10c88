//go:build integration

// These tests exercise the wallet against a real, already-running mint
// rather than spinning one up, since this module doesn't carry a mint
// server. Point CASHU_TEST_MINT_URL at a reachable testnet/regtest mint
// to run them; they are skipped otherwise.
package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tyler-smith/go-bip39"
)

func testMintURL(t *testing.T) string {
	t.Helper()
	mintURL := os.Getenv("CASHU_TEST_MINT_URL")
	if mintURL == "" {
		t.Skip("CASHU_TEST_MINT_URL not set, skipping integration test")
	}
	return mintURL
}

func createTestWallet(t *testing.T, defaultMint string) *Wallet {
	t.Helper()
	walletPath := filepath.Join(t.TempDir(), "wallet")
	if err := os.MkdirAll(walletPath, 0750); err != nil {
		t.Fatal(err)
	}
	w, err := LoadWallet(Config{WalletPath: walletPath, CurrentMintURL: defaultMint})
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestGetMintInfo(t *testing.T) {
	mintURL := testMintURL(t)
	w := createTestWallet(t, mintURL)

	info, err := w.GetMintInfo(mintURL)
	if err != nil {
		t.Fatalf("GetMintInfo: %v", err)
	}
	if info.Name == "" {
		t.Error("expected mint to advertise a name")
	}
}

func TestAddMintTracksKeysets(t *testing.T) {
	mintURL := testMintURL(t)
	w := createTestWallet(t, mintURL)

	mints := w.Mints()
	if len(mints) != 1 || mints[0] != mintURL {
		t.Fatalf("expected wallet to already know '%v' from LoadWallet, got '%v'", mintURL, mints)
	}
	if w.MintBalance(mintURL) != 0 {
		t.Errorf("expected a fresh wallet to have zero balance")
	}
}

func TestRequestMintQuote(t *testing.T) {
	mintURL := testMintURL(t)
	w := createTestWallet(t, mintURL)

	quote, err := w.RequestMintFromMint(1000, mintURL)
	if err != nil {
		t.Fatalf("RequestMintFromMint: %v", err)
	}
	if quote.Request == "" {
		t.Error("expected a non-empty lightning invoice in the quote response")
	}

	state, err := w.MintQuoteState(quote.Quote)
	if err != nil {
		t.Fatalf("MintQuoteState: %v", err)
	}
	if state.Quote != quote.Quote {
		t.Errorf("expected quote id '%v' but got '%v'", quote.Quote, state.Quote)
	}
}

func TestRestoreFromFreshMnemonicFindsNothing(t *testing.T) {
	mintURL := testMintURL(t)

	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		t.Fatal(err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		t.Fatal(err)
	}

	walletPath := filepath.Join(t.TempDir(), "restored")
	amount, err := Restore(walletPath, mnemonic, []string{mintURL})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if amount != 0 {
		t.Errorf("expected a never-used mnemonic to restore to 0, got %v", amount)
	}
}
