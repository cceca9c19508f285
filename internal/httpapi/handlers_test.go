package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"echovault.org/internal/audit"
	"echovault.org/internal/chain"
	"echovault.org/internal/gateway"
	"echovault.org/internal/payment"
	"echovault.org/internal/vault"
)

const (
	testOwner   = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	testGrantee = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	testScope   = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	testMint    = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testATA     = "7UX2i7SucgLMQcfZ75s3VXmZZY4YRUyJN9X1RgfMoDUi"
)

type fakeRPC struct {
	tx *chain.Transaction
}

func (f *fakeRPC) GetAccountInfo(ctx context.Context, addr chain.PublicKey) ([]byte, error) {
	return nil, errors.New("no accounts")
}

func (f *fakeRPC) GetSignatureStatus(ctx context.Context, sig string) (bool, error) {
	return f.tx != nil, nil
}

func (f *fakeRPC) GetTransaction(ctx context.Context, sig string) (*chain.Transaction, error) {
	return f.tx, nil
}

func paymentTx(amount float64) *chain.Transaction {
	parsed := fmt.Sprintf(`{
		"type": "transferChecked",
		"info": {
			"mint": %q,
			"source": %q,
			"destination": %q,
			"authority": %q,
			"tokenAmount": {"uiAmountString": %q, "decimals": 6}
		}
	}`, testMint, testATA, testGrantee, testOwner, fmt.Sprintf("%g", amount))

	tx := &chain.Transaction{}
	tx.Transaction.Message.Instructions = []chain.Instruction{
		{Program: "spl-token", Parsed: json.RawMessage(parsed)},
	}
	tx.Meta = &chain.TransactionMeta{}
	return tx
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type apiOptions struct {
	strict      bool
	tx          *chain.Transaction
	adminSecret string
	storageDir  string
}

func newTestAPI(t *testing.T, opts apiOptions) *apiClient {
	t.Helper()

	var rpc chain.RPCClient
	if opts.tx != nil {
		rpc = &fakeRPC{tx: opts.tx}
	}
	grants := vault.NewInMemory()
	pay := payment.NewVerifier(rpc, payment.Policy{Mint: testMint, Recipient: testGrantee})
	gw := gateway.New(gateway.Options{
		Grants:  grants,
		Payment: pay,
		Strict:  opts.strict,
		Price:   0.001,
		Mint:    testMint,
	})
	api := New(Options{
		Grants:      grants,
		Blobs:       vault.NewBlobStore(opts.storageDir),
		Audit:       audit.NewLog(),
		Gateway:     gw,
		Version:     "test",
		AdminSecret: opts.adminSecret,
	})
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	resp, err := c.client.Get(u.String())
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func expectReason(t *testing.T, resp *http.Response, status int, reason string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d", resp.StatusCode, status)
	}
	body := decodeBody(t, resp)
	if body["reason"] != reason || body["code"] != reason {
		t.Fatalf("body = %v, want reason %q", body, reason)
	}
}

func (c *apiClient) initVault(t *testing.T) {
	t.Helper()
	resp := c.post("/vault/init", map[string]any{
		"owner":          testOwner,
		"context_uri":    "ipfs://ctx",
		"encrypted_blob": "BLOB",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("vault init status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func (c *apiClient) grant(t *testing.T, expiresAt any) {
	t.Helper()
	body := map[string]any{
		"owner":      testOwner,
		"grantee":    testGrantee,
		"scope_hash": testScope,
	}
	if expiresAt != nil {
		body["expires_at"] = expiresAt
	}
	resp := c.post("/vault/grant", body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grant status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func contextBody(pay map[string]any) map[string]any {
	body := map[string]any{
		"owner":      testOwner,
		"grantee":    testGrantee,
		"scope_hash": testScope,
	}
	if pay != nil {
		body["payment"] = pay
	}
	return body
}

func TestGrantThenPaidRequest(t *testing.T) {
	c := newTestAPI(t, apiOptions{tx: paymentTx(0.001)})
	c.initVault(t)
	c.grant(t, nil)

	// no proof yet: challenge
	resp := c.post("/context/request", contextBody(nil), nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("challenge status = %d", resp.StatusCode)
	}
	challenge := decodeBody(t, resp)
	if challenge["required"] != true || challenge["mint"] != testMint {
		t.Fatalf("challenge = %v", challenge)
	}

	// retry with a verifiable proof
	resp = c.post("/context/request", contextBody(map[string]any{
		"txSig":     "5sig",
		"amount":    0.001,
		"recipient": testGrantee,
	}), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("paid request status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["ok"] != true || body["context_uri"] != "ipfs://ctx" {
		t.Fatalf("body = %v", body)
	}
	meta, _ := body["meta"].(map[string]any)
	if meta["source"] != "dev" {
		t.Fatalf("meta = %v", meta)
	}
}

func TestRevokedGrantDenied(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.initVault(t)
	c.grant(t, nil)

	resp := c.post("/vault/revoke", map[string]any{
		"owner":      testOwner,
		"grantee":    testGrantee,
		"scope_hash": testScope,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/context/request", contextBody(nil), nil)
	expectReason(t, resp, http.StatusForbidden, "grant_revoked")
}

func TestStrictModeFailsClosed(t *testing.T) {
	c := newTestAPI(t, apiOptions{strict: true})
	c.initVault(t)
	c.grant(t, nil)

	resp := c.post("/context/request", contextBody(nil), nil)
	expectReason(t, resp, http.StatusForbidden, "onchain_not_configured")
}

func TestProofWithoutSignature(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.initVault(t)
	c.grant(t, nil)

	resp := c.post("/context/request", contextBody(map[string]any{
		"amount": 0.001,
	}), nil)
	expectReason(t, resp, http.StatusBadRequest, "missing_tx")
}

func TestPaymentFailureReturnsVerifyResult(t *testing.T) {
	c := newTestAPI(t, apiOptions{tx: paymentTx(0.0001)})
	c.initVault(t)
	c.grant(t, nil)

	resp := c.post("/context/request", contextBody(map[string]any{
		"txSig":     "5sig",
		"amount":    0.001,
		"recipient": testGrantee,
	}), nil)
	expectReason(t, resp, http.StatusPaymentRequired, "mint_amount_mismatch")
}

func TestExpiredGrantDenied(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.initVault(t)
	c.grant(t, 1)

	resp := c.post("/context/request", contextBody(nil), nil)
	expectReason(t, resp, http.StatusForbidden, "grant_expired")
}

func TestContextRequestMissingFields(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	resp := c.post("/context/request", map[string]any{"owner": testOwner}, nil)
	expectReason(t, resp, http.StatusBadRequest, "missing_fields")
}

func TestContextRequestUnknownGrant(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	resp := c.post("/context/request", contextBody(nil), nil)
	expectReason(t, resp, http.StatusForbidden, "grant_not_found")
}

func TestContextRequestMissingVault(t *testing.T) {
	c := newTestAPI(t, apiOptions{tx: paymentTx(0.001)})
	c.grant(t, nil)

	resp := c.post("/context/request", contextBody(map[string]any{
		"txSig":     "5sig",
		"amount":    0.001,
		"recipient": testGrantee,
	}), nil)
	expectReason(t, resp, http.StatusNotFound, "vault_not_found")
}

func TestContextPreview(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.initVault(t)
	c.grant(t, nil)

	resp := c.post("/context/preview", contextBody(nil), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	preview, _ := body["preview"].(map[string]any)
	if preview["context_uri"] != "ipfs://ctx" || preview["source"] != "dev" {
		t.Fatalf("preview = %v", preview)
	}
	if preview["byte_length"].(float64) <= 0 {
		t.Fatalf("byte_length = %v", preview["byte_length"])
	}
}

func TestVaultInitValidation(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	cases := []struct {
		body   map[string]any
		reason string
	}{
		{map[string]any{"context_uri": "x", "encrypted_blob": "b"}, "missing_owner"},
		{map[string]any{"owner": "o", "encrypted_blob": "b"}, "missing_context_uri"},
		{map[string]any{"owner": "o", "context_uri": "x"}, "missing_encrypted_blob"},
	}
	for _, tc := range cases {
		resp := c.post("/vault/init", tc.body, nil)
		expectReason(t, resp, http.StatusBadRequest, tc.reason)
	}
}

func TestVaultResource(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.initVault(t)

	resp := c.get("/vault/"+testOwner, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("vault fetch status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	v, _ := body["vault"].(map[string]any)
	if v["owner"] != testOwner {
		t.Fatalf("vault = %v", v)
	}

	resp = c.get("/vault/unknown-owner", nil)
	expectReason(t, resp, http.StatusNotFound, "vault_not_found")
}

func TestVaultList(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.initVault(t)
	c.grant(t, nil)

	resp := c.get("/vaults", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("vaults status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["total"].(float64) != 1 {
		t.Fatalf("total = %v", body["total"])
	}
	items, _ := body["vaults"].([]any)
	item, _ := items[0].(map[string]any)
	grants, _ := item["grants"].(map[string]any)
	if grants["total"].(float64) != 1 {
		t.Fatalf("grants = %v", grants)
	}

	resp = c.get("/vaults", url.Values{"limit": {"oops"}})
	expectReason(t, resp, http.StatusBadRequest, "invalid_limit")
}

func TestGrantListFilters(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.grant(t, nil)

	resp := c.get("/vault/grants", url.Values{"status": {"active"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grants status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["total"].(float64) != 1 {
		t.Fatalf("total = %v", body["total"])
	}

	resp = c.get("/vault/grants", url.Values{"status": {"revoked"}})
	body = decodeBody(t, resp)
	if body["total"].(float64) != 0 {
		t.Fatalf("revoked total = %v", body["total"])
	}

	resp = c.get("/vault/grants", url.Values{"status": {"bogus"}})
	expectReason(t, resp, http.StatusBadRequest, "invalid_status")

	resp = c.get("/vault/grants", url.Values{"offset": {"-1"}})
	expectReason(t, resp, http.StatusBadRequest, "invalid_offset")
}

func TestGrantSummary(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.grant(t, nil)

	resp := c.get("/vault/grants/summary", url.Values{"owner": {testOwner}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	counts, _ := body["counts"].(map[string]any)
	if counts["active"].(float64) != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestRevokeUnknownGrant(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	resp := c.post("/vault/revoke", map[string]any{
		"owner":      testOwner,
		"grantee":    testGrantee,
		"scope_hash": testScope,
	}, nil)
	expectReason(t, resp, http.StatusNotFound, "grant_not_found")
}

func TestAuditTrail(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.initVault(t)
	c.grant(t, nil)

	resp := c.get("/audit", url.Values{"owner": {testOwner}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["total"].(float64) != 2 {
		t.Fatalf("total = %v", body["total"])
	}
	events, _ := body["events"].([]any)
	newest, _ := events[0].(map[string]any)
	if newest["action"] != "grant" {
		t.Fatalf("newest = %v", newest)
	}

	resp = c.get("/audit/summary", url.Values{"action": {"grant"}})
	body = decodeBody(t, resp)
	if body["total"].(float64) != 1 {
		t.Fatalf("summary = %v", body)
	}

	resp = c.get("/audit", url.Values{"since": {"oops"}})
	expectReason(t, resp, http.StatusBadRequest, "invalid_since")
}

func TestStatusEndpoint(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.initVault(t)
	c.grant(t, nil)

	resp := c.get("/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	counts, _ := body["counts"].(map[string]any)
	if counts["vaults"].(float64) != 1 || counts["grants"].(float64) != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.get(path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
