// PKCS#11 configuration for signing through a hardware token.
package config

import (
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/georgepadayatti/gocades/keys"
)

// PKCS11PinEntryMode defines PIN entry behavior.
type PKCS11PinEntryMode int

const (
	// PKCS11PinPrompt indicates the user should be prompted for PIN.
	PKCS11PinPrompt PKCS11PinEntryMode = iota
	// PKCS11PinDefer lets the PKCS#11 module handle authentication (e.g., physical PIN pad).
	PKCS11PinDefer
	// PKCS11PinSkip skips the login process (for devices with external auth).
	PKCS11PinSkip
)

// String returns the string representation of the PIN entry mode.
func (m PKCS11PinEntryMode) String() string {
	switch m {
	case PKCS11PinPrompt:
		return "PROMPT"
	case PKCS11PinDefer:
		return "DEFER"
	case PKCS11PinSkip:
		return "SKIP"
	default:
		return "UNKNOWN"
	}
}

// ParsePKCS11PinEntryMode parses a string into a PKCS11PinEntryMode.
func ParsePKCS11PinEntryMode(s string) (PKCS11PinEntryMode, error) {
	switch s {
	case "PROMPT", "prompt":
		return PKCS11PinPrompt, nil
	case "DEFER", "defer":
		return PKCS11PinDefer, nil
	case "SKIP", "skip":
		return PKCS11PinSkip, nil
	default:
		return PKCS11PinPrompt, fmt.Errorf("invalid PIN entry mode: %s (must be PROMPT, DEFER, or SKIP)", s)
	}
}

// TokenCriteria defines search criteria for finding a PKCS#11 token.
type TokenCriteria struct {
	// Label is the token label to match. If empty, no label constraint is applied.
	Label string `yaml:"label" json:"label,omitempty"`

	// Serial is the token serial number (as bytes). If nil, no serial constraint is applied.
	Serial []byte `yaml:"serial" json:"serial,omitempty"`
}

// IsEmpty returns true if no criteria are specified.
func (c *TokenCriteria) IsEmpty() bool {
	return c == nil || (c.Label == "" && len(c.Serial) == 0)
}

// String returns a string representation of the criteria.
func (c *TokenCriteria) String() string {
	if c == nil {
		return "<no criteria>"
	}
	var parts []string
	if c.Label != "" {
		parts = append(parts, fmt.Sprintf("label=%q", c.Label))
	}
	if len(c.Serial) > 0 {
		parts = append(parts, fmt.Sprintf("serial=%s", hex.EncodeToString(c.Serial)))
	}
	if len(parts) == 0 {
		return "<no criteria>"
	}
	return fmt.Sprintf("TokenCriteria{%s}", strings.Join(parts, ", "))
}

// PKCS11SignatureConfig contains configuration for PKCS#11 signing.
type PKCS11SignatureConfig struct {
	// ModulePath is the path to the PKCS#11 module shared object (.so/.dylib/.dll).
	ModulePath string `yaml:"module-path" json:"module_path"`

	// TokenCriteria specifies criteria for finding the token.
	TokenCriteria *TokenCriteria `yaml:"token-criteria" json:"token_criteria,omitempty"`

	// KeyType is the private key family, "rsa" or "ecdsa".
	KeyType string `yaml:"key-type" json:"key_type"`

	// CertLabel is the PKCS#11 label of the signer's certificate.
	CertLabel string `yaml:"cert-label" json:"cert_label,omitempty"`

	// CertID is the PKCS#11 ID of the signer's certificate.
	CertID []byte `yaml:"cert-id" json:"cert_id,omitempty"`

	// KeyLabel is the PKCS#11 label of the private key.
	// Defaults to CertLabel if not specified and KeyID is also not specified.
	KeyLabel string `yaml:"key-label" json:"key_label,omitempty"`

	// KeyID is the PKCS#11 ID of the private key.
	KeyID []byte `yaml:"key-id" json:"key_id,omitempty"`

	// UserPIN is the user PIN for authentication.
	// If empty and PromptPIN is PROMPT, the user will be prompted.
	UserPIN string `yaml:"user-pin" json:"user_pin,omitempty"`

	// PromptPIN specifies PIN entry behavior.
	PromptPIN PKCS11PinEntryMode `yaml:"prompt-pin" json:"prompt_pin"`

	// SigningCertificatePath is the path to the signing certificate.
	// The certificate is loaded from file since the envelope needs it even
	// when the key never leaves the token.
	SigningCertificatePath string `yaml:"signing-certificate" json:"signing_certificate,omitempty"`

	// SigningCertificate is the loaded signing certificate.
	SigningCertificate *x509.Certificate `yaml:"-" json:"-"`

	// OtherCertsFiles are paths to other certificate files to include.
	OtherCertsFiles []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// OtherCerts contains the loaded additional certificates.
	OtherCerts []*x509.Certificate `yaml:"-" json:"-"`
}

// Validate validates the PKCS#11 configuration.
func (c *PKCS11SignatureConfig) Validate() error {
	if c.ModulePath == "" {
		return NewConfigError("module-path", "PKCS#11 module path is required")
	}

	// At least one of key_id, key_label, cert_label, or cert_id must be provided
	hasKeyIdentifier := c.KeyID != nil || c.KeyLabel != ""
	hasCertIdentifier := c.CertID != nil || c.CertLabel != ""

	if !hasKeyIdentifier && !hasCertIdentifier {
		return NewConfigError("", "at least one of key-id, key-label, cert-label, or cert-id must be provided")
	}

	return nil
}

// ProcessConfig processes the raw configuration values.
// This should be called after loading from YAML/JSON to resolve defaults.
func (c *PKCS11SignatureConfig) ProcessConfig() error {
	// Default key identifiers from cert identifiers if not set
	if c.KeyLabel == "" && c.KeyID == nil {
		if c.CertID != nil {
			c.KeyID = c.CertID
		}
		if c.CertLabel != "" {
			c.KeyLabel = c.CertLabel
		}
	}

	if c.KeyType == "" {
		c.KeyType = "rsa"
	}

	// Load signing certificate from file if specified
	if c.SigningCertificatePath != "" {
		cert, err := keys.LoadCertFromPemDer(c.SigningCertificatePath)
		if err != nil {
			return fmt.Errorf("failed to load signing certificate: %w", err)
		}
		c.SigningCertificate = cert
	}

	// Load other certificates from files if specified
	if len(c.OtherCertsFiles) > 0 {
		certs, err := keys.LoadCertsFromPemDerFiles(c.OtherCertsFiles)
		if err != nil {
			return fmt.Errorf("failed to load other certificates: %w", err)
		}
		c.OtherCerts = certs
	}

	return nil
}

// GetKeyLabel returns the effective key label.
func (c *PKCS11SignatureConfig) GetKeyLabel() string {
	if c.KeyLabel != "" {
		return c.KeyLabel
	}
	if c.KeyID == nil && c.CertLabel != "" {
		return c.CertLabel
	}
	return ""
}

// GetKeyID returns the effective key ID.
func (c *PKCS11SignatureConfig) GetKeyID() []byte {
	if c.KeyID != nil {
		return c.KeyID
	}
	if c.KeyLabel == "" && c.CertID != nil {
		return c.CertID
	}
	return nil
}

// ProcessPKCS11ID converts a PKCS#11 ID value from string (hex) or int to bytes.
func ProcessPKCS11ID(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case int:
		return []byte{byte(v)}, nil
	case int64:
		return []byte{byte(v)}, nil
	case string:
		return hex.DecodeString(v)
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported PKCS#11 ID type: %T", value)
	}
}
