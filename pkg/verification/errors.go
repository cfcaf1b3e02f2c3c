// Package verification implements the TEE attestation verifier: given a
// parsed heartbeat payload it classifies a verdict (success, failure, or
// inconclusive) by re-deriving and checking the cryptographic evidence
// the payload claims to carry. Grounded on the original node's
// blacklight-node/src/verification.rs.
package verification

import (
	"fmt"

	"github.com/certen/independant-validator/pkg/votepacking"
)

// ErrorClass distinguishes an operational failure (can't be attributed to
// the attested party) from a cryptographic one (evidence of tampering or
// a missing index entry).
type ErrorClass int

const (
	ClassInconclusive ErrorClass = iota
	ClassFailure
)

// Kind enumerates the verification error taxonomy. Kinds never overlap
// between the inconclusive and failure buckets.
type Kind int

const (
	// Inconclusive — operational/infrastructure failures, not attributable
	// to the attested party.
	KindFetchReport Kind = iota
	KindBuilderURL
	KindBuilderJSON
	KindPhalaEventLogParse
	KindFetchCerts
	KindDetectProcessor
	KindInvalidCertificate

	// Failure — cryptographic mismatches, attributable to the attested party.
	KindVerifyReport
	KindMeasurementHash
	KindNotInBuilderIndex
	KindPhalaComposeHashMismatch
	KindPhalaQuoteVerify
)

// Error is one entry in the verification error taxonomy. Every concrete
// error names the step that failed; Verdict maps it to the on-chain
// verdict a node should cast.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Class reports whether e is an operational (inconclusive) or
// cryptographic (failure) error.
func (e *Error) Class() ErrorClass {
	switch e.Kind {
	case KindVerifyReport, KindMeasurementHash, KindNotInBuilderIndex,
		KindPhalaComposeHashMismatch, KindPhalaQuoteVerify:
		return ClassFailure
	default:
		return ClassInconclusive
	}
}

// Verdict maps e to the on-chain verdict a node should cast. Never
// returns VerdictSuccess, since this is an error type.
func (e *Error) Verdict() votepacking.Verdict {
	if e.Class() == ClassFailure {
		return votepacking.VerdictFailure
	}
	return votepacking.VerdictInconclusive
}

func errFetchReport(cause error) *Error {
	return &Error{Kind: KindFetchReport, Message: fmt.Sprintf("could not fetch attestation report: %v", cause)}
}

func errBuilderURL(cause error) *Error {
	return &Error{Kind: KindBuilderURL, Message: fmt.Sprintf("invalid builder_measurement URL: %v", cause)}
}

func errBuilderJSON(cause error) *Error {
	return &Error{Kind: KindBuilderJSON, Message: fmt.Sprintf("invalid builder_measurement JSON: %v", cause)}
}

func errPhalaEventLogParse(cause error) *Error {
	return &Error{Kind: KindPhalaEventLogParse, Message: fmt.Sprintf("failed to parse event_log: %v", cause)}
}

func errFetchCerts(cause error) *Error {
	return &Error{Kind: KindFetchCerts, Message: fmt.Sprintf("could not fetch AMD certificates: %v", cause)}
}

func errDetectProcessor(cause error) *Error {
	return &Error{Kind: KindDetectProcessor, Message: fmt.Sprintf("could not detect processor type: %v", cause)}
}

func errInvalidCertificate(cause error) *Error {
	return &Error{Kind: KindInvalidCertificate, Message: fmt.Sprintf("invalid certificate obtained from AMD: %v", cause)}
}

func errVerifyReport(cause error) *Error {
	return &Error{Kind: KindVerifyReport, Message: fmt.Sprintf("attestation report verification failed: %v", cause)}
}

func errMeasurementHash(cause error) *Error {
	return &Error{Kind: KindMeasurementHash, Message: fmt.Sprintf("measurement hash verification failed: %v", cause)}
}

func errNotInBuilderIndex() *Error {
	return &Error{Kind: KindNotInBuilderIndex, Message: "measurement not found in builder index"}
}

func errPhalaComposeHashMismatch() *Error {
	return &Error{Kind: KindPhalaComposeHashMismatch, Message: "compose-hash mismatch"}
}

func errPhalaQuoteVerify(cause error) *Error {
	return &Error{Kind: KindPhalaQuoteVerify, Message: fmt.Sprintf("quote verification failed: %v", cause)}
}
