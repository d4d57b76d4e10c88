package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elnosh/gonuts/cashu"
	"github.com/elnosh/gonuts/cashu/nuts/nut01"
	"github.com/elnosh/gonuts/cashu/nuts/nut02"
	"github.com/elnosh/gonuts/cashu/nuts/nut03"
	"github.com/elnosh/gonuts/cashu/nuts/nut04"
	"github.com/elnosh/gonuts/cashu/nuts/nut05"
	"github.com/elnosh/gonuts/cashu/nuts/nut06"
	"github.com/elnosh/gonuts/cashu/nuts/nut07"
	"github.com/elnosh/gonuts/cashu/nuts/nut09"
	"github.com/elnosh/gonuts/cashu/nuts/nut19"
	"github.com/elnosh/gonuts/cashu/nuts/nut21"
	"github.com/elnosh/gonuts/cashu/nuts/nut22"
)

// requestTimeout bounds any single mint round trip. A caller's context
// can shorten this bound but not extend it.
const requestTimeout = 60 * time.Second

// requestOption mutates an outgoing request before it is sent, used to
// attach NUT-21 clear-auth or NUT-22 blind-auth credentials without
// threading them through every client function's signature.
type requestOption func(*http.Request)

// WithClearAuth attaches a NUT-21 access token to the request.
func WithClearAuth(token string) requestOption {
	return func(req *http.Request) {
		if token != "" {
			req.Header.Set(nut21.ClearAuthHeader, token)
		}
	}
}

// WithBlindAuth attaches a spent NUT-22 blind-auth token to the
// request. The caller is responsible for never reusing the token.
func WithBlindAuth(token string) requestOption {
	return func(req *http.Request) {
		if token != "" {
			req.Header.Set(nut22.BlindAuthHeader, token)
		}
	}
}

func GetMintInfo(ctx context.Context, mintURL string) (*nut06.MintInfo, error) {
	resp, err := get(ctx, mintURL+"/v1/info")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var mintInfo nut06.MintInfo
	if err := json.Unmarshal(body, &mintInfo); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &mintInfo, nil
}

func GetActiveKeysets(ctx context.Context, mintURL string) (*nut01.GetKeysResponse, error) {
	resp, err := get(ctx, mintURL+"/v1/keys")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var keysetRes nut01.GetKeysResponse
	if err := json.Unmarshal(body, &keysetRes); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &keysetRes, nil
}

func GetAllKeysets(ctx context.Context, mintURL string) (*nut02.GetKeysetsResponse, error) {
	resp, err := get(ctx, mintURL+"/v1/keysets")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var keysetsRes nut02.GetKeysetsResponse
	if err := json.Unmarshal(body, &keysetsRes); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &keysetsRes, nil
}

func GetKeysetById(ctx context.Context, mintURL, id string) (*nut01.GetKeysResponse, error) {
	resp, err := get(ctx, mintURL+"/v1/keys/"+id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var keysetRes nut01.GetKeysResponse
	if err := json.Unmarshal(body, &keysetRes); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &keysetRes, nil
}

func PostMintQuoteBolt11(ctx context.Context, mintURL string, mintQuoteRequest nut04.PostMintQuoteBolt11Request, opts ...requestOption) (
	*nut04.PostMintQuoteBolt11Response, error) {
	requestBody, err := json.Marshal(mintQuoteRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(ctx, mintURL+"/v1/mint/quote/bolt11", bytes.NewBuffer(requestBody), opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var reqMintResponse nut04.PostMintQuoteBolt11Response
	if err := json.Unmarshal(body, &reqMintResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &reqMintResponse, nil
}

func GetMintQuoteState(ctx context.Context, mintURL, quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	resp, err := get(ctx, mintURL+"/v1/mint/quote/bolt11/"+quoteId)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var mintQuoteResponse nut04.PostMintQuoteBolt11Response
	if err := json.Unmarshal(body, &mintQuoteResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &mintQuoteResponse, nil
}

func PostMintBolt11(ctx context.Context, mintURL string, mintRequest nut04.PostMintBolt11Request, cache *nut19.Cache, opts ...requestOption) (
	*nut04.PostMintBolt11Response, error) {
	requestBody, err := json.Marshal(mintRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	cacheKey := nut19.Key(http.MethodPost, "/v1/mint/bolt11", requestBody)
	if cached, ok := cache.Get(cacheKey); ok {
		var reqMintResponse nut04.PostMintBolt11Response
		if err := json.Unmarshal(cached, &reqMintResponse); err == nil {
			return &reqMintResponse, nil
		}
	}

	resp, err := httpPost(ctx, mintURL+"/v1/mint/bolt11", bytes.NewBuffer(requestBody), opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var reqMintResponse nut04.PostMintBolt11Response
	if err := json.Unmarshal(body, &reqMintResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	cache.Put(cacheKey, body)

	return &reqMintResponse, nil
}

func PostSwap(ctx context.Context, mintURL string, swapRequest nut03.PostSwapRequest, cache *nut19.Cache, opts ...requestOption) (*nut03.PostSwapResponse, error) {
	requestBody, err := json.Marshal(swapRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	cacheKey := nut19.Key(http.MethodPost, "/v1/swap", requestBody)
	if cached, ok := cache.Get(cacheKey); ok {
		var swapResponse nut03.PostSwapResponse
		if err := json.Unmarshal(cached, &swapResponse); err == nil {
			return &swapResponse, nil
		}
	}

	resp, err := httpPost(ctx, mintURL+"/v1/swap", bytes.NewBuffer(requestBody), opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var swapResponse nut03.PostSwapResponse
	if err := json.Unmarshal(body, &swapResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	cache.Put(cacheKey, body)

	return &swapResponse, nil
}

func PostMeltQuoteBolt11(ctx context.Context, mintURL string, meltQuoteRequest nut05.PostMeltQuoteBolt11Request, opts ...requestOption) (
	*nut05.PostMeltQuoteBolt11Response, error) {

	requestBody, err := json.Marshal(meltQuoteRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(ctx, mintURL+"/v1/melt/quote/bolt11", bytes.NewBuffer(requestBody), opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var meltQuoteResponse nut05.PostMeltQuoteBolt11Response
	if err := json.Unmarshal(body, &meltQuoteResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &meltQuoteResponse, nil
}

func GetMeltQuoteState(ctx context.Context, mintURL, quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	resp, err := get(ctx, mintURL+"/v1/melt/quote/bolt11/"+quoteId)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var meltQuoteResponse nut05.PostMeltQuoteBolt11Response
	if err := json.Unmarshal(body, &meltQuoteResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &meltQuoteResponse, nil
}

func PostMeltBolt11(ctx context.Context, mintURL string, meltRequest nut05.PostMeltBolt11Request, cache *nut19.Cache, opts ...requestOption) (
	*nut05.PostMeltBolt11Response, error) {

	requestBody, err := json.Marshal(meltRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	cacheKey := nut19.Key(http.MethodPost, "/v1/melt/bolt11", requestBody)
	if cached, ok := cache.Get(cacheKey); ok {
		var meltResponse nut05.PostMeltBolt11Response
		if err := json.Unmarshal(cached, &meltResponse); err == nil {
			return &meltResponse, nil
		}
	}

	resp, err := httpPost(ctx, mintURL+"/v1/melt/bolt11", bytes.NewBuffer(requestBody), opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var meltResponse nut05.PostMeltBolt11Response
	if err := json.Unmarshal(body, &meltResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	cache.Put(cacheKey, body)

	return &meltResponse, nil
}

func PostCheckProofState(ctx context.Context, mintURL string, stateRequest nut07.PostCheckStateRequest) (
	*nut07.PostCheckStateResponse, error) {

	requestBody, err := json.Marshal(stateRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(ctx, mintURL+"/v1/checkstate", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var stateResponse nut07.PostCheckStateResponse
	if err := json.Unmarshal(body, &stateResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &stateResponse, nil
}

func PostRestore(ctx context.Context, mintURL string, restoreRequest nut09.PostRestoreRequest) (
	*nut09.PostRestoreResponse, error) {

	requestBody, err := json.Marshal(restoreRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(ctx, mintURL+"/v1/restore", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var restoreResponse nut09.PostRestoreResponse
	if err := json.Unmarshal(body, &restoreResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &restoreResponse, nil
}

// PostAuthBlindMint exchanges a NUT-21 clear-auth token (attached via
// opts, never in the body) for a batch of blind-signed auth tokens.
func PostAuthBlindMint(ctx context.Context, mintURL string, request nut22.PostAuthBlindMintRequest, opts ...requestOption) (
	*nut22.PostAuthBlindMintResponse, error) {

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(ctx, mintURL+"/v1/auth/blind/mint", bytes.NewBuffer(requestBody), opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var authResponse nut22.PostAuthBlindMintResponse
	if err := json.Unmarshal(body, &authResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &authResponse, nil
}

func get(ctx context.Context, url string, opts ...requestOption) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}

	return parse(resp)
}

func httpPost(ctx context.Context, url string, body io.Reader, opts ...requestOption) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}

	return parse(resp)
}

func parse(response *http.Response) (*http.Response, error) {
	if response.StatusCode == 400 {
		var errResponse cashu.Error
		err := json.NewDecoder(response.Body).Decode(&errResponse)
		if err != nil {
			return nil, fmt.Errorf("could not decode error response from mint: %v", err)
		}
		return nil, errResponse
	}

	if response.StatusCode != 200 {
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s", body)
	}

	return response, nil
}
