package verification

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/certen/independant-validator/pkg/htx"
	"github.com/certen/independant-validator/pkg/votepacking"
)

// builderIndexRequestTimeout/builderIndexConnectTimeout bound the builder
// index HTTP fetch per spec §5 ("HTTP: 10s request, 5s connect for
// builder-index fetches").
const (
	builderIndexRequestTimeout = 10 * time.Second
	builderIndexConnectTimeout = 5 * time.Second
)

// Verifier classifies a verdict for one parsed HTX payload. One Verifier
// instance owns a process-wide (per-instance) download mutex and a
// separate certificate mutex, so artifact downloads and certificate
// fetches are each serialized independently, matching spec §4.1/§5.
type Verifier struct {
	artifactCache string
	certCache     string

	reportFetcher        reportFetcher
	measurementGenerator MeasurementGenerator
	reportVerifier       ReportVerifier
	quoteVerifier        QuoteVerifier

	certMu            sync.Mutex
	builderHTTPClient *http.Client
}

// reportFetcher is the narrow interface nillion.go's VerifyNillion needs;
// satisfied by httpReportFetcher in production and by mocks in tests.
type reportFetcher interface {
	FetchReport(ctx context.Context, url string) (*ReportBundle, error)
}

// Config wires a Verifier's pluggable crypto boundaries. ReportBundleDecoder
// and ReportVerifier decode/verify the AMD SEV-SNP attestation report;
// MeasurementGenerator defaults to DefaultMeasurementGenerator when nil.
// QuoteVerifier verifies the Intel TDX DCAP quote. See DESIGN.md for why
// the first three are injected rather than implemented against the real
// binary formats.
type Config struct {
	ArtifactCache string
	CertCache     string

	ArtifactsBaseURL string // defaults to nillionArtifactsBaseURL
	HTTPClient       *http.Client

	ReportBundleDecoder  ReportBundleDecoder
	MeasurementGenerator MeasurementGenerator
	ReportVerifier       ReportVerifier
	QuoteVerifier        QuoteVerifier
}

// New constructs a Verifier. ArtifactCache, CertCache, ReportBundleDecoder,
// ReportVerifier, and QuoteVerifier are required; MeasurementGenerator
// defaults to DefaultMeasurementGenerator.
func New(cfg Config) (*Verifier, error) {
	if cfg.ArtifactCache == "" || cfg.CertCache == "" {
		return nil, fmt.Errorf("verification: ArtifactCache and CertCache are required")
	}
	if cfg.ReportBundleDecoder == nil {
		return nil, fmt.Errorf("verification: ReportBundleDecoder is required")
	}
	if cfg.ReportVerifier == nil {
		return nil, fmt.Errorf("verification: ReportVerifier is required")
	}
	if cfg.QuoteVerifier == nil {
		return nil, fmt.Errorf("verification: QuoteVerifier is required")
	}
	if cfg.MeasurementGenerator == nil {
		cfg.MeasurementGenerator = DefaultMeasurementGenerator{}
	}
	artifactsBaseURL := cfg.ArtifactsBaseURL
	if artifactsBaseURL == "" {
		artifactsBaseURL = nillionArtifactsBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	fetcher := &httpReportFetcher{
		httpClient:    httpClient,
		decoder:       cfg.ReportBundleDecoder,
		downloader:    NewLockedDownloader(httpClient),
		artifactsURL:  artifactsBaseURL,
		artifactCache: cfg.ArtifactCache,
	}

	return &Verifier{
		artifactCache:        cfg.ArtifactCache,
		certCache:            cfg.CertCache,
		reportFetcher:        fetcher,
		measurementGenerator: cfg.MeasurementGenerator,
		reportVerifier:       cfg.ReportVerifier,
		quoteVerifier:        cfg.QuoteVerifier,
		builderHTTPClient:    builderIndexHTTPClient(),
	}, nil
}

func builderIndexHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: builderIndexConnectTimeout}
	return &http.Client{
		Timeout: builderIndexRequestTimeout,
		Transport: &http.Transport{
			DialContext: dialer.DialContext,
		},
	}
}

// Verify dispatches on msg's concrete type and returns the verdict this
// node should cast. Unlike the Verify* methods, Verify never returns an
// error: any verification failure is folded into the verdict itself, per
// spec invariant 2 ("every error yields a verdict, never aborts").
//
// ERC-8004 payloads (htx.Erc8004Htx) are not TEE-attested and carry
// nothing for this verifier to check — the original node's own
// process_htx_assignment never dispatches them either, so they fall
// through to the default case below and are submitted Inconclusive.
func (v *Verifier) Verify(ctx context.Context, msg htx.Message) (votepacking.Verdict, error) {
	switch m := msg.(type) {
	case htx.JsonNillion:
		if verr := v.VerifyNillion(ctx, m.NillionHtxV1); verr != nil {
			return verr.Verdict(), verr
		}
		return votepacking.VerdictSuccess, nil
	case htx.JsonPhala:
		if verr := v.VerifyPhala(ctx, m.PhalaHtxV1); verr != nil {
			return verr.Verdict(), verr
		}
		return votepacking.VerdictSuccess, nil
	default:
		return votepacking.VerdictInconclusive, fmt.Errorf("verification: unsupported message type %T", msg)
	}
}
