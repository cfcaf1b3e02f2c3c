package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/certen/independant-validator/pkg/htx"
)

// phalaEventLogEntry is one entry of a Phala attest_data.event_log array;
// only the fields this verifier inspects are modeled.
type phalaEventLogEntry struct {
	Event        string `json:"event"`
	EventPayload string `json:"event_payload"`
}

// VerifyPhala implements spec §4.1's Phala (Intel TDX via DCAP)
// verification path: compare the app_compose hash against the attested
// compose-hash event, then verify the TDX quote locally.
func (v *Verifier) VerifyPhala(ctx context.Context, body htx.PhalaHtxV1) *Error {
	sum := sha256.Sum256([]byte(body.AppCompose))
	calculatedHash := hex.EncodeToString(sum[:])

	var events []phalaEventLogEntry
	if err := json.Unmarshal([]byte(body.AttestData.EventLog), &events); err != nil {
		return errPhalaEventLogParse(err)
	}

	var attestedHash string
	found := false
	for _, ev := range events {
		if ev.Event == "compose-hash" {
			attestedHash = ev.EventPayload
			found = true
			break
		}
	}
	if !found {
		return errPhalaEventLogParse(fmt.Errorf("compose-hash event not found"))
	}

	if calculatedHash != attestedHash {
		return errPhalaComposeHashMismatch()
	}

	quoteBytes, err := hex.DecodeString(body.AttestData.Quote)
	if err != nil {
		return errPhalaQuoteVerify(fmt.Errorf("invalid quote hex: %w", err))
	}

	if err := v.quoteVerifier.VerifyQuote(ctx, quoteBytes); err != nil {
		return errPhalaQuoteVerify(err)
	}

	return nil
}

// fetchBuilderIndex retrieves and parses the JSON document published at
// url, applying the 10s request / 5s connect timeout budget from §4.1.
func (v *Verifier) fetchBuilderIndex(ctx context.Context, url string) (interface{}, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errBuilderURL(err)
	}
	resp, err := v.builderHTTPClient.Do(req)
	if err != nil {
		return nil, errBuilderURL(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errBuilderURL(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errBuilderURL(err)
	}

	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errBuilderJSON(err)
	}
	return parsed, nil
}
