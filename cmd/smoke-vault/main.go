// Command smoke-vault runs an end-to-end flow against a live API: init a
// vault, grant access, request content without payment (expect a 402
// challenge), revoke, request again (expect 403).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

const (
	owner   = "smoke-owner"
	grantee = "smoke-grantee"
	scope   = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
)

func main() {
	base := os.Getenv("ECHOVAULT_API_URL")
	if base == "" {
		base = "http://localhost:8787"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	post(client, base+"/vault/init", map[string]any{
		"owner":          owner,
		"context_uri":    "ipfs://smoke-ctx",
		"encrypted_blob": "SMOKE_BLOB",
	}, http.StatusOK)

	post(client, base+"/vault/grant", map[string]any{
		"owner":      owner,
		"grantee":    grantee,
		"scope_hash": scope,
	}, http.StatusOK)

	contextReq := map[string]any{
		"owner":      owner,
		"grantee":    grantee,
		"scope_hash": scope,
	}
	challenge := post(client, base+"/context/request", contextReq, http.StatusPaymentRequired)
	if challenge["required"] != true {
		log.Fatalf("expected payment challenge, got %v", challenge)
	}

	post(client, base+"/vault/revoke", map[string]any{
		"owner":      owner,
		"grantee":    grantee,
		"scope_hash": scope,
	}, http.StatusOK)

	denied := post(client, base+"/context/request", contextReq, http.StatusForbidden)
	if denied["reason"] != "grant_revoked" {
		log.Fatalf("expected grant_revoked, got %v", denied)
	}

	fmt.Println("✅ vault smoke test passed")
}

func post(client *http.Client, url string, body map[string]any, wantStatus int) map[string]any {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", url, err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("post %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		log.Fatalf("decode %s: %v", url, err)
	}
	return decoded
}
