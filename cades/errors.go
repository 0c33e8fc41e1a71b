package cades

import "errors"

// Error taxonomy of the envelope engine. All of these are fatal to the
// call that raised them; nothing is retried internally and no partial
// envelope is ever returned. Wrapped causes are preserved through %w.
var (
	// ErrMissingSigningCertificate is returned when no signing certificate
	// is configured and data-to-be-signed generation without a certificate
	// was not requested.
	ErrMissingSigningCertificate = errors.New("signing certificate is not provided; provide a certificate or use a placeholder identity")

	// ErrOperatorCreation is returned when the signing or digest operator
	// could not be constructed.
	ErrOperatorCreation = errors.New("unable to create a signature operator")

	// ErrEnvelopeConstruction is returned when the encoding layer rejects
	// the assembled structure.
	ErrEnvelopeConstruction = errors.New("unable to create a CMS signed envelope")

	// ErrCertificateEncoding is returned when a certificate token cannot
	// be encoded to its binary form.
	ErrCertificateEncoding = errors.New("unable to encode certificate for the certificate store")

	// ErrRevocationConversion is returned when a CRL or OCSP token cannot
	// be converted to its binary holder form.
	ErrRevocationConversion = errors.New("unable to convert revocation token")
)
