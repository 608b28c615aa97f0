package mtls

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vyrodovalexey/enforcer/internal/keys"
	"github.com/vyrodovalexey/enforcer/internal/observability"
)

// Common errors for client certificate validation.
var (
	// ErrNoCertificate indicates that no client certificate was provided.
	ErrNoCertificate = errors.New("no client certificate provided")

	// ErrCertificateExpired indicates that the certificate has expired.
	ErrCertificateExpired = errors.New("certificate has expired")

	// ErrCertificateNotYetValid indicates that the certificate is not yet valid.
	ErrCertificateNotYetValid = errors.New("certificate is not yet valid")

	// ErrCertificateUntrusted indicates that the certificate is not one the
	// API trusts.
	ErrCertificateUntrusted = errors.New("certificate is not trusted")
)

const (
	reasonValid         = "valid"
	reasonNoCertificate = "no_certificate"
	reasonNotYetValid   = "not_yet_valid"
	reasonExpired       = "expired"
	reasonUntrusted     = "untrusted"
)

// CertificateInfo contains information extracted from a client certificate.
type CertificateInfo struct {
	SubjectDN    string
	IssuerDN     string
	CommonName   string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time

	// Fingerprint is the hex SHA-256 of the DER encoding.
	Fingerprint string
}

// Validator checks client certificates against the certificates an API
// trusts.
type Validator struct {
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time
}

// ValidatorOption is a functional option for the validator.
type ValidatorOption func(*Validator)

// WithValidatorLogger sets the logger for the validator.
func WithValidatorLogger(logger observability.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithValidatorMetrics sets the metrics for the validator.
func WithValidatorMetrics(metrics *Metrics) ValidatorOption {
	return func(v *Validator) {
		v.metrics = metrics
	}
}

// WithClock overrides the time source used for the validity window.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a client certificate validator.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.metrics == nil {
		v.metrics = NewMetrics("enforcer")
	}
	return v
}

// Validate checks that cert is within its validity window and is either one
// of trusted or issued by one of them.
func (v *Validator) Validate(_ context.Context, cert *x509.Certificate, trusted []*x509.Certificate) (*CertificateInfo, error) {
	start := time.Now()

	if cert == nil {
		v.metrics.RecordValidation("error", reasonNoCertificate, time.Since(start))
		return nil, ErrNoCertificate
	}

	now := v.now()
	if now.Before(cert.NotBefore) {
		v.metrics.RecordValidation("error", reasonNotYetValid, time.Since(start))
		return nil, ErrCertificateNotYetValid
	}
	if now.After(cert.NotAfter) {
		v.metrics.RecordValidation("error", reasonExpired, time.Since(start))
		return nil, ErrCertificateExpired
	}

	if err := v.verifyTrust(cert, trusted, now); err != nil {
		v.metrics.RecordValidation("error", reasonUntrusted, time.Since(start))
		return nil, err
	}

	info := extractInfo(cert)
	v.metrics.RecordValidation("success", reasonValid, time.Since(start))
	v.logger.Debug("client certificate validated",
		observability.String("subject", info.SubjectDN),
		observability.String("fingerprint", info.Fingerprint),
	)
	return info, nil
}

func (v *Validator) verifyTrust(cert *x509.Certificate, trusted []*x509.Certificate, now time.Time) error {
	if len(trusted) == 0 {
		return ErrCertificateUntrusted
	}

	roots := x509.NewCertPool()
	for _, t := range trusted {
		if t.Equal(cert) {
			return nil
		}
		roots.AddCert(t)
	}

	_, err := cert.Verify(x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCertificateUntrusted, err)
	}
	return nil
}

func extractInfo(cert *x509.Certificate) *CertificateInfo {
	return &CertificateInfo{
		SubjectDN:    cert.Subject.String(),
		IssuerDN:     cert.Issuer.String(),
		CommonName:   cert.Subject.CommonName,
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		Fingerprint:  calculateFingerprint(cert),
	}
}

// calculateFingerprint calculates the SHA-256 fingerprint of a certificate.
func calculateFingerprint(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(hash[:])
}

// ParseHeaderCertificate decodes a certificate forwarded by the proxy in a
// request header. The PEM may be URL encoded.
func ParseHeaderCertificate(value string) (*x509.Certificate, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrNoCertificate
	}
	if !strings.Contains(value, "\n") {
		decoded, err := url.PathUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("failed to decode client certificate header: %w", err)
		}
		value = decoded
	}
	return keys.ParseCertificate([]byte(value))
}
