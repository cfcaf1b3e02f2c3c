package verification

import (
	"context"
	"errors"
)

// ReportBundle is the decoded form of a Nillion/nilCC
// workload_measurement.url response: the launch parameters needed to
// regenerate the expected measurement, the opaque attestation report
// bytes, and the measurement value the CVM actually reported at launch.
type ReportBundle struct {
	CPUCount     uint64
	NilccVersion string
	VMType       string
	Metadata     map[string]interface{}
	Report       []byte
	Measurement  [32]byte
}

// ReportBundleDecoder turns a workload_measurement.url response body into
// a ReportBundle. A production implementation decodes the SEV-SNP
// attestation-report wire format published by nilCC; that binary format
// is not present anywhere in the retrieved source, so it is an injected
// boundary here rather than a literal port (see DESIGN.md).
type ReportBundleDecoder interface {
	Decode(body []byte) (*ReportBundle, error)
}

// MeasurementGenerator regenerates the measurement a CVM reports at
// launch from its launch artifacts (kernel, initrd, bootloader, firmware)
// under artifactsPath plus the workload's launch parameters, so it can be
// compared against the value embedded in a fetched attestation report.
type MeasurementGenerator interface {
	Generate(dockerComposeHash [32]byte, cpuCount uint64, vmType string, metadata map[string]interface{}, artifactsPath string) ([32]byte, error)
}

// ReportVerifier checks an attestation report's chain of trust: signature
// over the report body rooted at AMD's VCEK/ASK/ARK certificates (fetched
// once per processor type and cached), and measurement field equality
// against the regenerated value. Like MeasurementGenerator, the actual
// SEV-SNP certificate/signature validation is not present in the
// retrieved source and is injected here as a boundary.
//
// Implementations should return one of the sentinel errors below (wrapped
// with %w) to get specific inconclusive classification; any other error
// is treated as a cryptographic verification failure.
type ReportVerifier interface {
	VerifyReport(ctx context.Context, report []byte, expectedMeasurement [32]byte) error
}

// QuoteVerifier verifies an Intel TDX DCAP quote, fetching collateral as
// needed. Grounded on the original node's use of dcap_qvl::collateral::
// get_collateral_and_verify, a Rust crate with no retrieved Go
// equivalent; injected as a boundary for the same reason as above.
type QuoteVerifier interface {
	VerifyQuote(ctx context.Context, quote []byte) error
}

// Sentinel causes a ReportVerifier implementation can wrap to steer
// VerifyReport's caller toward the correct inconclusive sub-classification
// instead of the generic cryptographic-failure bucket.
var (
	ErrCertificateFetchFailed   = errors.New("verification: certificate fetch failed")
	ErrProcessorDetectionFailed = errors.New("verification: could not detect processor type")
	ErrCertificateInvalid       = errors.New("verification: certificate invalid")
)
