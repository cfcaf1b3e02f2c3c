package verification

import (
	"errors"
	"testing"
)

func TestDefaultReportBundleDecoderHappyPath(t *testing.T) {
	body := []byte(`{
		"cpu_count": 4,
		"nilcc_version": "v1.2.3",
		"vm_type": "sev-snp",
		"metadata": {"region": "us-east"},
		"report": "0xdeadbeef",
		"measurement": "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
	}`)

	bundle, err := DefaultReportBundleDecoder{}.Decode(body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if bundle.CPUCount != 4 {
		t.Errorf("CPUCount = %d, want 4", bundle.CPUCount)
	}
	if bundle.NilccVersion != "v1.2.3" {
		t.Errorf("NilccVersion = %q, want v1.2.3", bundle.NilccVersion)
	}
	if bundle.VMType != "sev-snp" {
		t.Errorf("VMType = %q, want sev-snp", bundle.VMType)
	}
	if len(bundle.Report) != 4 || bundle.Report[0] != 0xde {
		t.Errorf("Report = %x, want deadbeef", bundle.Report)
	}
	if bundle.Measurement[0] != 0x01 || bundle.Measurement[31] != 0x20 {
		t.Errorf("Measurement = %x, unexpected bytes", bundle.Measurement)
	}
}

func TestDefaultReportBundleDecoderRejectsShortMeasurement(t *testing.T) {
	body := []byte(`{"report": "aa", "measurement": "0102"}`)
	if _, err := (DefaultReportBundleDecoder{}).Decode(body); err == nil {
		t.Fatal("expected error for short measurement")
	}
}

func TestDefaultReportBundleDecoderRejectsInvalidJSON(t *testing.T) {
	if _, err := (DefaultReportBundleDecoder{}).Decode([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestUnimplementedReportVerifierWrapsCertificateFetchFailed(t *testing.T) {
	err := UnimplementedReportVerifier{}.VerifyReport(nil, nil, [32]byte{})
	if !errors.Is(err, ErrCertificateFetchFailed) {
		t.Errorf("expected error to wrap ErrCertificateFetchFailed, got %v", err)
	}
}

func TestUnimplementedQuoteVerifierReturnsError(t *testing.T) {
	if err := (UnimplementedQuoteVerifier{}).VerifyQuote(nil, nil); err == nil {
		t.Fatal("expected error")
	}
}
