package verification

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/certen/independant-validator/pkg/canonjson"
	"github.com/certen/independant-validator/pkg/htx"
)

// nillionArtifactsBaseURL mirrors verification.rs's ARTIFACTS_URL
// constant: the default source nilCC launch artifacts are fetched from
// when a cache miss occurs.
const nillionArtifactsBaseURL = "https://nilcc.s3.eu-west-1.amazonaws.com"

// httpReportFetcher fetches a workload's attestation report bundle over
// HTTP and makes sure the corresponding launch artifacts are cached
// locally, both behind the same LockedDownloader.
type httpReportFetcher struct {
	httpClient    *http.Client
	decoder       ReportBundleDecoder
	downloader    *LockedDownloader
	artifactsURL  string
	artifactCache string
}

func (f *httpReportFetcher) FetchReport(ctx context.Context, url string) (*ReportBundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	bundle, err := f.decoder.Decode(body)
	if err != nil {
		return nil, err
	}

	artifactsPath := filepath.Join(f.artifactCache, bundle.NilccVersion)
	if err := f.downloader.EnsureArtifacts(ctx, f.artifactsURL, bundle.NilccVersion, artifactsPath); err != nil {
		return nil, err
	}
	return bundle, nil
}

// DefaultMeasurementGenerator regenerates a launch measurement by hashing
// the workload's launch parameters together with the ordered contents of
// its cached launch artifacts. This is a deterministic reference
// implementation of the boundary described in DESIGN.md, standing in for
// the real AMD SEV-SNP firmware measurement replay algorithm (not present
// in the retrieved source).
type DefaultMeasurementGenerator struct{}

func (DefaultMeasurementGenerator) Generate(dockerComposeHash [32]byte, cpuCount uint64, vmType string, metadata map[string]interface{}, artifactsPath string) ([32]byte, error) {
	h := sha256.New()
	h.Write(dockerComposeHash[:])

	var cpuBuf [8]byte
	binary.BigEndian.PutUint64(cpuBuf[:], cpuCount)
	h.Write(cpuBuf[:])

	h.Write([]byte(vmType))

	metaBytes, err := canonjson.StableStringify(metadata)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encoding metadata: %w", err)
	}
	h.Write(metaBytes)

	for _, name := range nillionArtifactFiles {
		data, err := os.ReadFile(filepath.Join(artifactsPath, name))
		if err != nil {
			return [32]byte{}, fmt.Errorf("reading artifact %q: %w", name, err)
		}
		h.Write(data)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// VerifyNillion implements spec §4.1's Nillion/nilCC (AMD SEV-SNP)
// verification path: fetch the attestation report, regenerate the
// expected measurement from cached launch artifacts, verify the report's
// chain of trust, then check the report's measurement against the
// builder-published index.
func (v *Verifier) VerifyNillion(ctx context.Context, body htx.NillionHtxV1) *Error {
	bundle, err := v.reportFetcher.FetchReport(ctx, body.WorkloadMeasurement.URL)
	if err != nil {
		return errFetchReport(err)
	}

	expectedMeasurement, err := v.measurementGenerator.Generate(
		[32]byte(body.WorkloadMeasurement.DockerComposeHash),
		bundle.CPUCount,
		bundle.VMType,
		bundle.Metadata,
		filepath.Join(v.artifactCache, bundle.NilccVersion),
	)
	if err != nil {
		return errMeasurementHash(err)
	}

	v.certMu.Lock()
	verifyErr := v.reportVerifier.VerifyReport(ctx, bundle.Report, expectedMeasurement)
	v.certMu.Unlock()
	if verifyErr != nil {
		switch {
		case errors.Is(verifyErr, ErrCertificateFetchFailed):
			return errFetchCerts(verifyErr)
		case errors.Is(verifyErr, ErrProcessorDetectionFailed):
			return errDetectProcessor(verifyErr)
		case errors.Is(verifyErr, ErrCertificateInvalid):
			return errInvalidCertificate(verifyErr)
		default:
			return errVerifyReport(verifyErr)
		}
	}

	builderJSON, err := v.fetchBuilderIndex(ctx, body.BuilderMeasurement.URL)
	if err != nil {
		return err
	}

	measurementHex := hex.EncodeToString(bundle.Measurement[:])
	if !builderIndexContains(builderJSON, measurementHex) {
		return errNotInBuilderIndex()
	}
	return nil
}

// builderIndexContains implements the tolerant membership test from
// spec §9: the index may be a JSON object (any value) or a JSON array
// (any element); any other shape never matches.
func builderIndexContains(index interface{}, measurementHex string) bool {
	switch v := index.(type) {
	case map[string]interface{}:
		for _, value := range v {
			if s, ok := value.(string); ok && s == measurementHex {
				return true
			}
		}
	case []interface{}:
		for _, value := range v {
			if s, ok := value.(string); ok && s == measurementHex {
				return true
			}
		}
	}
	return false
}
