package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/certen/independant-validator/pkg/htx"
)

// fixedReportFetcher returns a canned bundle regardless of the URL
// requested, for tests that don't care about the HTTP path.
type fixedReportFetcher struct {
	bundle *ReportBundle
	err    error
}

func (f *fixedReportFetcher) FetchReport(ctx context.Context, url string) (*ReportBundle, error) {
	return f.bundle, f.err
}

type fixedMeasurementGenerator struct {
	measurement [32]byte
	err         error
}

func (g fixedMeasurementGenerator) Generate(dockerComposeHash [32]byte, cpuCount uint64, vmType string, metadata map[string]interface{}, artifactsPath string) ([32]byte, error) {
	return g.measurement, g.err
}

type fixedReportVerifier struct {
	err error
}

func (v fixedReportVerifier) VerifyReport(ctx context.Context, report []byte, expected [32]byte) error {
	return v.err
}

type fixedQuoteVerifier struct {
	err error
}

func (v fixedQuoteVerifier) VerifyQuote(ctx context.Context, quote []byte) error {
	return v.err
}

func newTestVerifier(t *testing.T, fetcher reportFetcher, gen MeasurementGenerator, rv ReportVerifier, qv QuoteVerifier) *Verifier {
	t.Helper()
	return &Verifier{
		artifactCache:        t.TempDir(),
		certCache:            t.TempDir(),
		reportFetcher:        fetcher,
		measurementGenerator: gen,
		reportVerifier:       rv,
		quoteVerifier:        qv,
		builderHTTPClient:    http.DefaultClient,
	}
}

// S1 — Nillion happy path: report fetch, measurement regeneration, and
// report verification all succeed, and the builder index contains the
// report's measurement.
func TestVerifyNillionHappyPath(t *testing.T) {
	measurement := [32]byte{0xAB, 0xCD}
	builderSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"b1": %q}`, hex.EncodeToString(measurement[:]))
	}))
	defer builderSrv.Close()

	v := newTestVerifier(t,
		&fixedReportFetcher{bundle: &ReportBundle{CPUCount: 8, NilccVersion: "v1.0", VMType: "sev-snp", Measurement: measurement}},
		fixedMeasurementGenerator{measurement: measurement},
		fixedReportVerifier{},
		fixedQuoteVerifier{},
	)

	body := htx.NillionHtxV1{
		WorkloadMeasurement: htx.WorkloadMeasurement{URL: "https://example.invalid/report"},
		BuilderMeasurement:  htx.BuilderMeasurement{URL: builderSrv.URL},
	}

	if err := v.VerifyNillion(context.Background(), body); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

// S2 — Nillion not-in-index: the builder index doesn't contain the
// report's measurement.
func TestVerifyNillionNotInBuilderIndex(t *testing.T) {
	measurement := [32]byte{0xAB, 0xCD}
	builderSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"b1": "deadbeef"}`)
	}))
	defer builderSrv.Close()

	v := newTestVerifier(t,
		&fixedReportFetcher{bundle: &ReportBundle{Measurement: measurement}},
		fixedMeasurementGenerator{measurement: measurement},
		fixedReportVerifier{},
		fixedQuoteVerifier{},
	)

	body := htx.NillionHtxV1{
		WorkloadMeasurement: htx.WorkloadMeasurement{URL: "https://example.invalid/report"},
		BuilderMeasurement:  htx.BuilderMeasurement{URL: builderSrv.URL},
	}

	verr := v.VerifyNillion(context.Background(), body)
	if verr == nil {
		t.Fatal("expected NotInBuilderIndex error")
	}
	if verr.Kind != KindNotInBuilderIndex {
		t.Errorf("Kind = %v, want KindNotInBuilderIndex", verr.Kind)
	}
	if verr.Verdict() != 2 {
		t.Errorf("Verdict() = %v, want Failure", verr.Verdict())
	}
}

func TestVerifyNillionBuilderIndexAcceptsArray(t *testing.T) {
	measurement := [32]byte{0x01, 0x02}
	builderSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `["aa", %q, "bb"]`, hex.EncodeToString(measurement[:]))
	}))
	defer builderSrv.Close()

	v := newTestVerifier(t,
		&fixedReportFetcher{bundle: &ReportBundle{Measurement: measurement}},
		fixedMeasurementGenerator{measurement: measurement},
		fixedReportVerifier{},
		fixedQuoteVerifier{},
	)

	body := htx.NillionHtxV1{
		WorkloadMeasurement: htx.WorkloadMeasurement{URL: "https://example.invalid/report"},
		BuilderMeasurement:  htx.BuilderMeasurement{URL: builderSrv.URL},
	}
	if err := v.VerifyNillion(context.Background(), body); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestVerifyNillionReportVerifierErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"cert fetch", ErrCertificateFetchFailed, KindFetchCerts},
		{"processor detection", ErrProcessorDetectionFailed, KindDetectProcessor},
		{"invalid cert", ErrCertificateInvalid, KindInvalidCertificate},
		{"generic crypto failure", errors.New("signature mismatch"), KindVerifyReport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestVerifier(t,
				&fixedReportFetcher{bundle: &ReportBundle{}},
				fixedMeasurementGenerator{},
				fixedReportVerifier{err: tc.err},
				fixedQuoteVerifier{},
			)
			body := htx.NillionHtxV1{
				WorkloadMeasurement: htx.WorkloadMeasurement{URL: "https://example.invalid/report"},
				BuilderMeasurement:  htx.BuilderMeasurement{URL: "https://example.invalid/builder"},
			}
			verr := v.VerifyNillion(context.Background(), body)
			if verr == nil {
				t.Fatal("expected error")
			}
			if verr.Kind != tc.want {
				t.Errorf("Kind = %v, want %v", verr.Kind, tc.want)
			}
		})
	}
}

// S3 — Phala compose-hash mismatch.
func TestVerifyPhalaComposeHashMismatch(t *testing.T) {
	v := newTestVerifier(t, nil, nil, nil, fixedQuoteVerifier{})
	body := htx.PhalaHtxV1{
		AppCompose: "hello",
		AttestData: htx.PhalaAttestData{
			Quote:    "aa",
			EventLog: `[{"event":"compose-hash","event_payload":"00"}]`,
		},
	}
	verr := v.VerifyPhala(context.Background(), body)
	if verr == nil {
		t.Fatal("expected PhalaComposeHashMismatch error")
	}
	if verr.Kind != KindPhalaComposeHashMismatch {
		t.Errorf("Kind = %v, want KindPhalaComposeHashMismatch", verr.Kind)
	}
}

func TestVerifyPhalaHappyPath(t *testing.T) {
	appCompose := "hello"
	sum := sha256Hex(appCompose)

	v := newTestVerifier(t, nil, nil, nil, fixedQuoteVerifier{})
	body := htx.PhalaHtxV1{
		AppCompose: appCompose,
		AttestData: htx.PhalaAttestData{
			Quote:    "aabbcc",
			EventLog: fmt.Sprintf(`[{"event":"compose-hash","event_payload":%q}]`, sum),
		},
	}
	if err := v.VerifyPhala(context.Background(), body); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestVerifyPhalaQuoteVerifyFailure(t *testing.T) {
	appCompose := "hello"
	sum := sha256Hex(appCompose)

	v := newTestVerifier(t, nil, nil, nil, fixedQuoteVerifier{err: errors.New("collateral fetch failed")})
	body := htx.PhalaHtxV1{
		AppCompose: appCompose,
		AttestData: htx.PhalaAttestData{
			Quote:    "aabbcc",
			EventLog: fmt.Sprintf(`[{"event":"compose-hash","event_payload":%q}]`, sum),
		},
	}
	verr := v.VerifyPhala(context.Background(), body)
	if verr == nil {
		t.Fatal("expected PhalaQuoteVerify error")
	}
	if verr.Kind != KindPhalaQuoteVerify {
		t.Errorf("Kind = %v, want KindPhalaQuoteVerify", verr.Kind)
	}
	if verr.Verdict() != 2 {
		t.Errorf("Verdict() = %v, want Failure", verr.Verdict())
	}
}

func TestVerifyPhalaEventLogParseError(t *testing.T) {
	v := newTestVerifier(t, nil, nil, nil, fixedQuoteVerifier{})
	body := htx.PhalaHtxV1{
		AppCompose: "hello",
		AttestData: htx.PhalaAttestData{Quote: "aa", EventLog: "not json"},
	}
	verr := v.VerifyPhala(context.Background(), body)
	if verr == nil || verr.Kind != KindPhalaEventLogParse {
		t.Fatalf("expected PhalaEventLogParse error, got %v", verr)
	}
	if verr.Verdict() != 3 {
		t.Errorf("Verdict() = %v, want Inconclusive", verr.Verdict())
	}
}

// S4-equivalent determinism check: verifying the same input twice yields
// the same verdict (invariant 1 in spec §8).
func TestVerifyDeterministic(t *testing.T) {
	v := newTestVerifier(t, nil, nil, nil, fixedQuoteVerifier{})
	body := htx.PhalaHtxV1{
		AppCompose: "hello",
		AttestData: htx.PhalaAttestData{Quote: "aa", EventLog: `[{"event":"compose-hash","event_payload":"00"}]`},
	}
	first := v.VerifyPhala(context.Background(), body)
	second := v.VerifyPhala(context.Background(), body)
	if (first == nil) != (second == nil) {
		t.Fatal("verify not deterministic")
	}
	if first != nil && first.Kind != second.Kind {
		t.Errorf("kind differs across calls: %v vs %v", first.Kind, second.Kind)
	}
}

func TestDefaultMeasurementGeneratorDeterministic(t *testing.T) {
	dir := t.TempDir()
	for _, name := range nillionArtifactFiles {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("contents-of-"+name), 0o644); err != nil {
			t.Fatalf("writing artifact: %v", err)
		}
	}
	gen := DefaultMeasurementGenerator{}
	hash := [32]byte{0x01}
	m1, err := gen.Generate(hash, 8, "sev-snp", map[string]interface{}{"a": 1}, dir)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	m2, err := gen.Generate(hash, 8, "sev-snp", map[string]interface{}{"a": 1}, dir)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if m1 != m2 {
		t.Error("measurement generation not deterministic")
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
