// Package config provides the YAML configuration surface of the signing
// tool: signing credentials (PEM/DER, PKCS#12, PKCS#11), signature
// profile settings and verifier settings.
package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/gocades/cades"
	"github.com/georgepadayatti/gocades/keys"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnexpectedField      = errors.New("unexpected field in configuration")
	ErrInvalidOID           = errors.New("invalid OID")
	ErrInvalidConfigType    = errors.New("configuration must be a dictionary")
)

// OIDRegex matches OID strings like "1.2.3.4"
var OIDRegex = regexp.MustCompile(`^\d+(\.\d+)+$`)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// PKCS12SignatureConfig contains configuration for signing using a PKCS#12 file.
type PKCS12SignatureConfig struct {
	// PFXFile is the path to the PKCS#12 file.
	PFXFile string `yaml:"pfx-file" json:"pfx_file"`

	// OtherCertsFiles are paths to other certificate files.
	OtherCertsFiles []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// PFXPassphrase is the PKCS#12 passphrase.
	PFXPassphrase string `yaml:"pfx-passphrase" json:"pfx_passphrase,omitempty"`

	// PromptPassphrase indicates whether to prompt for passphrase.
	PromptPassphrase bool `yaml:"prompt-passphrase" json:"prompt_passphrase"`

	// Certificate is the loaded signing certificate (after processing).
	Certificate *x509.Certificate `yaml:"-" json:"-"`

	// PrivateKey is the loaded private key (after processing).
	PrivateKey keys.PrivateKey `yaml:"-" json:"-"`

	// OtherCerts contains the loaded certificates (after processing).
	OtherCerts []*x509.Certificate `yaml:"-" json:"-"`
}

// Validate validates the PKCS12 signature configuration.
func (c *PKCS12SignatureConfig) Validate() error {
	if c.PFXFile == "" {
		return NewConfigError("pfx-file", "required field is missing")
	}
	return nil
}

// Load loads the credential from the configured PKCS#12 file, plus any
// additional certificates.
func (c *PKCS12SignatureConfig) Load() error {
	if err := c.Validate(); err != nil {
		return err
	}

	credential, err := keys.LoadPKCS12(c.PFXFile, c.PFXPassphrase)
	if err != nil {
		return fmt.Errorf("failed to load PKCS#12 credential: %w", err)
	}
	c.Certificate = credential.Certificate
	c.PrivateKey = credential.PrivateKey
	c.OtherCerts = credential.CACerts

	if len(c.OtherCertsFiles) > 0 {
		certs, err := keys.LoadCertsFromPemDerFiles(c.OtherCertsFiles)
		if err != nil {
			return fmt.Errorf("failed to load other certs: %w", err)
		}
		c.OtherCerts = append(c.OtherCerts, certs...)
	}

	return nil
}

// GetPassphraseBytes returns the passphrase as bytes.
func (c *PKCS12SignatureConfig) GetPassphraseBytes() []byte {
	if c.PFXPassphrase == "" {
		return nil
	}
	return []byte(c.PFXPassphrase)
}

// PemDerSignatureConfig contains configuration for signing using PEM/DER files.
type PemDerSignatureConfig struct {
	// KeyFile is the path to the private key file.
	KeyFile string `yaml:"key-file" json:"key_file"`

	// CertFile is the path to the certificate file.
	CertFile string `yaml:"cert-file" json:"cert_file"`

	// OtherCertsFiles are paths to other certificate files.
	OtherCertsFiles []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// KeyPassphrase is the private key passphrase.
	KeyPassphrase string `yaml:"key-passphrase" json:"key_passphrase,omitempty"`

	// PromptPassphrase indicates whether to prompt for passphrase.
	PromptPassphrase bool `yaml:"prompt-passphrase" json:"prompt_passphrase"`

	// Certificate is the loaded certificate (after processing).
	Certificate *x509.Certificate `yaml:"-" json:"-"`

	// PrivateKey is the loaded private key (after processing).
	PrivateKey keys.PrivateKey `yaml:"-" json:"-"`

	// OtherCerts contains the loaded certificates (after processing).
	OtherCerts []*x509.Certificate `yaml:"-" json:"-"`
}

// Validate validates the PEM/DER signature configuration.
func (c *PemDerSignatureConfig) Validate() error {
	if c.KeyFile == "" {
		return NewConfigError("key-file", "required field is missing")
	}
	if c.CertFile == "" {
		return NewConfigError("cert-file", "required field is missing")
	}
	return nil
}

// Load loads the certificate and key from the configured files.
func (c *PemDerSignatureConfig) Load() error {
	if err := c.Validate(); err != nil {
		return err
	}

	cert, key, err := keys.LoadCertAndKeyFromPemDer(
		c.CertFile,
		c.KeyFile,
		c.GetPassphraseBytes(),
	)
	if err != nil {
		return fmt.Errorf("failed to load cert and key: %w", err)
	}
	c.Certificate = cert
	c.PrivateKey = key

	if len(c.OtherCertsFiles) > 0 {
		certs, err := keys.LoadCertsFromPemDerFiles(c.OtherCertsFiles)
		if err != nil {
			return fmt.Errorf("failed to load other certs: %w", err)
		}
		c.OtherCerts = certs
	}

	return nil
}

// GetPassphraseBytes returns the passphrase as bytes.
func (c *PemDerSignatureConfig) GetPassphraseBytes() []byte {
	if c.KeyPassphrase == "" {
		return nil
	}
	return []byte(c.KeyPassphrase)
}

// SignatureProfileConfig contains the signature-level settings applied
// when building a new envelope.
type SignatureProfileConfig struct {
	// Digest is the digest algorithm name ("sha256", "sha384", "sha512").
	Digest string `yaml:"digest" json:"digest,omitempty"`

	// Detached controls whether the signed content is embedded in the
	// envelope or left out.
	Detached bool `yaml:"detached" json:"detached"`

	// CommitmentType is an optional commitment type, either a dotted OID
	// or one of the well-known names ("proof-of-origin", "proof-of-receipt",
	// "proof-of-delivery", "proof-of-sender", "proof-of-approval",
	// "proof-of-creation").
	CommitmentType string `yaml:"commitment-type" json:"commitment_type,omitempty"`

	// OmitSigningTime leaves the signing-time attribute out.
	OmitSigningTime bool `yaml:"omit-signing-time" json:"omit_signing_time"`
}

// SigningConfig represents the top-level signing configuration.
type SigningConfig struct {
	// DefaultKeySet names the key set used when none is given.
	DefaultKeySet string `yaml:"default-key-set" json:"default_key_set,omitempty"`

	// KeySets contains named signing credential configurations.
	KeySets map[string]*KeySetConfig `yaml:"key-sets" json:"key_sets,omitempty"`

	// Profile contains the signature profile settings.
	Profile *SignatureProfileConfig `yaml:"profile" json:"profile,omitempty"`

	// Validation contains the verifier configuration used for chain
	// building.
	Validation *VerifierConfig `yaml:"validation" json:"validation,omitempty"`
}

// KeySet returns the key set with the given name, falling back to the
// default key set when name is empty.
func (c *SigningConfig) KeySet(name string) (*KeySetConfig, error) {
	if name == "" {
		name = c.DefaultKeySet
	}
	if name == "" {
		return nil, NewConfigError("key-sets", "no key set named and no default configured")
	}
	ks, ok := c.KeySets[name]
	if !ok {
		return nil, NewConfigError("key-sets", fmt.Sprintf("key set %q is not configured", name))
	}
	return ks, nil
}

// KeySetConfig contains configuration for a set of signing credentials.
type KeySetConfig struct {
	// Type is the type of key set ("pemder", "pkcs12" or "pkcs11").
	Type string `yaml:"type" json:"type"`

	// PemDer contains PEM/DER configuration (if type is "pemder").
	PemDer *PemDerSignatureConfig `yaml:"pemder" json:"pemder,omitempty"`

	// PKCS12 contains PKCS#12 configuration (if type is "pkcs12").
	PKCS12 *PKCS12SignatureConfig `yaml:"pkcs12" json:"pkcs12,omitempty"`

	// PKCS11 contains PKCS#11 configuration (if type is "pkcs11").
	PKCS11 *PKCS11SignatureConfig `yaml:"pkcs11" json:"pkcs11,omitempty"`
}

// Credential is a resolved software signing credential.
type Credential struct {
	Certificate *x509.Certificate
	PrivateKey  keys.PrivateKey
	OtherCerts  []*x509.Certificate
}

// LoadCredential resolves a software key set (pemder or pkcs12) into a
// loaded credential. PKCS#11 key sets keep the private key on the token
// and are resolved through the signers package instead.
func (c *KeySetConfig) LoadCredential() (*Credential, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Type {
	case "pemder":
		if err := c.PemDer.Load(); err != nil {
			return nil, err
		}
		return &Credential{
			Certificate: c.PemDer.Certificate,
			PrivateKey:  c.PemDer.PrivateKey,
			OtherCerts:  c.PemDer.OtherCerts,
		}, nil
	case "pkcs12":
		if err := c.PKCS12.Load(); err != nil {
			return nil, err
		}
		return &Credential{
			Certificate: c.PKCS12.Certificate,
			PrivateKey:  c.PKCS12.PrivateKey,
			OtherCerts:  c.PKCS12.OtherCerts,
		}, nil
	default:
		return nil, NewConfigError("type",
			fmt.Sprintf("key set type %q does not hold a software credential", c.Type))
	}
}

// Validate checks that the declared type matches the populated section.
func (c *KeySetConfig) Validate() error {
	switch c.Type {
	case "pemder":
		if c.PemDer == nil {
			return NewConfigError("pemder", "required section is missing")
		}
		return c.PemDer.Validate()
	case "pkcs12":
		if c.PKCS12 == nil {
			return NewConfigError("pkcs12", "required section is missing")
		}
		return c.PKCS12.Validate()
	case "pkcs11":
		if c.PKCS11 == nil {
			return NewConfigError("pkcs11", "required section is missing")
		}
		return c.PKCS11.Validate()
	case "":
		return NewConfigError("type", "required field is missing")
	default:
		return NewConfigError("type", fmt.Sprintf("unknown key set type %q", c.Type))
	}
}

// VerifierConfig configures chain building for new signatures: the trust
// anchors terminating a chain, the intermediates available as candidates,
// and whether anchors end up in the envelope's certificate store.
type VerifierConfig struct {
	// TrustAnchors contains paths to trust anchor certificate files.
	TrustAnchors []string `yaml:"trust-anchors" json:"trust_anchors,omitempty"`

	// OtherCerts contains paths to other certificate files.
	OtherCerts []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// IncludeAnchors embeds trust anchors in the certificate store.
	IncludeAnchors bool `yaml:"include-anchors" json:"include_anchors"`

	// RevocationMode is the revocation checking mode.
	RevocationMode string `yaml:"revocation-mode" json:"revocation_mode,omitempty"`

	// Signer contains signer-specific validation settings.
	Signer *SignerValidationConfig `yaml:"signer" json:"signer,omitempty"`
}

// VerifierSettings loads the referenced certificate files and returns the
// chain-building settings for the envelope builder.
func (c *VerifierConfig) VerifierSettings() (cades.VerifierSettings, error) {
	settings := cades.VerifierSettings{IncludeAnchors: c.IncludeAnchors}

	if len(c.TrustAnchors) > 0 {
		anchors, err := keys.LoadCertsFromPemDerFiles(c.TrustAnchors)
		if err != nil {
			return cades.VerifierSettings{}, fmt.Errorf("failed to load trust anchors: %w", err)
		}
		settings.TrustAnchors = anchors
	}
	if len(c.OtherCerts) > 0 {
		certs, err := keys.LoadCertsFromPemDerFiles(c.OtherCerts)
		if err != nil {
			return cades.VerifierSettings{}, fmt.Errorf("failed to load other certs: %w", err)
		}
		settings.CandidateCertificates = certs
	}

	return settings, nil
}

// SignerValidationConfig contains signer validation settings.
type SignerValidationConfig struct {
	// KeyUsage specifies required key usage.
	KeyUsage []string `yaml:"key-usage" json:"key_usage,omitempty"`

	// ExtKeyUsage specifies required extended key usage.
	ExtKeyUsage []string `yaml:"ext-key-usage" json:"ext_key_usage,omitempty"`
}

// LoadConfig loads a configuration from a YAML file.
func LoadConfig(filename string) (*SigningConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses configuration from YAML data.
func ParseConfig(data []byte) (*SigningConfig, error) {
	var config SigningConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// LoadConfigFromMap loads configuration from a map.
func LoadConfigFromMap(data map[string]any) (*SigningConfig, error) {
	// Marshal to YAML then unmarshal to struct
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config map: %w", err)
	}
	return ParseConfig(yamlData)
}

// CheckConfigKeys checks if all provided keys are valid for a given configuration type.
func CheckConfigKeys(configName string, expectedKeys, suppliedKeys []string) error {
	expectedSet := make(map[string]bool)
	for _, k := range expectedKeys {
		// Normalize to use dashes
		expectedSet[normalizeKey(k)] = true
	}

	var unexpected []string
	for _, k := range suppliedKeys {
		normalized := normalizeKey(k)
		if !expectedSet[normalized] {
			unexpected = append(unexpected, k)
		}
	}

	if len(unexpected) > 0 {
		keyWord := "key"
		if len(unexpected) > 1 {
			keyWord = "keys"
		}
		return fmt.Errorf("%w: unexpected %s in configuration for %s: %s",
			ErrUnexpectedField, keyWord, configName, strings.Join(unexpected, ", "))
	}

	return nil
}

// normalizeKey normalizes a configuration key (underscores to dashes).
func normalizeKey(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// ProcessOID validates a dotted OID string and parses it into its
// integer components.
func ProcessOID(oidString string) ([]int, error) {
	if oidString == "" {
		return nil, NewConfigError("oid", "OID string is empty")
	}
	if !OIDRegex.MatchString(oidString) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOID, oidString)
	}
	parts := strings.Split(oidString, ".")
	oid := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOID, oidString)
		}
		oid = append(oid, n)
	}
	return oid, nil
}

// Common X.509 KeyUsage flag names (matching crypto/x509 KeyUsage constants)
var KeyUsageFlags = map[string]bool{
	"digital-signature":  true,
	"digitalSignature":   true,
	"content-commitment": true,
	"contentCommitment":  true,
	"non-repudiation":    true, // Alias for content-commitment
	"nonRepudiation":     true,
	"key-encipherment":   true,
	"keyEncipherment":    true,
	"data-encipherment":  true,
	"dataEncipherment":   true,
	"key-agreement":      true,
	"keyAgreement":       true,
	"key-cert-sign":      true,
	"keyCertSign":        true,
	"crl-sign":           true,
	"cRLSign":            true,
	"encipher-only":      true,
	"encipherOnly":       true,
	"decipher-only":      true,
	"decipherOnly":       true,
}

// Common X.509 ExtKeyUsage flag names
var ExtKeyUsageFlags = map[string]bool{
	"any":              true,
	"server-auth":      true,
	"serverAuth":       true,
	"client-auth":      true,
	"clientAuth":       true,
	"code-signing":     true,
	"codeSigning":      true,
	"email-protection": true,
	"emailProtection":  true,
	"ipsec-end-system": true,
	"ipsecEndSystem":   true,
	"ipsec-tunnel":     true,
	"ipsecTunnel":      true,
	"ipsec-user":       true,
	"ipsecUser":        true,
	"time-stamping":    true,
	"timeStamping":     true,
	"ocsp-signing":     true,
	"OCSPSigning":      true,
}

// EnsureStrings ensures the input is a slice of strings.
// It accepts either a single string or a slice of strings.
// This is a helper for processing configuration values that can be
// specified as either a single value or a list.
func EnsureStrings(value any, paramName string) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		result := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, NewConfigError(paramName,
					fmt.Sprintf("item %d is not a string (got %T)", i, item))
			}
			result = append(result, s)
		}
		return result, nil
	default:
		return nil, NewConfigError(paramName,
			fmt.Sprintf("must be specified as a list of strings or a string, got %T", value))
	}
}

// ProcessBitStringFlags validates a list of flag strings against a set of
// valid flag names. This is used for processing configuration values like
// KeyUsage or ExtKeyUsage flags.
func ProcessBitStringFlags(validFlags map[string]bool, input any, paramName, flagTypeName string) ([]string, error) {
	strings, err := EnsureStrings(input, paramName)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(strings))
	for _, flagString := range strings {
		if flagString == "" {
			return nil, NewConfigError(paramName, "flag identifier cannot be empty")
		}

		if !validFlags[flagString] {
			return nil, NewConfigError(paramName,
				fmt.Sprintf("'%s' is not a valid %s flag name", flagString, flagTypeName))
		}

		result = append(result, flagString)
	}

	return result, nil
}

// ProcessKeyUsageFlags validates and processes KeyUsage flag strings.
func ProcessKeyUsageFlags(input any, paramName string) ([]string, error) {
	return ProcessBitStringFlags(KeyUsageFlags, input, paramName, "KeyUsage")
}

// ProcessExtKeyUsageFlags validates and processes ExtKeyUsage flag strings.
func ProcessExtKeyUsageFlags(input any, paramName string) ([]string, error) {
	return ProcessBitStringFlags(ExtKeyUsageFlags, input, paramName, "ExtKeyUsage")
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	// Signing contains signing configuration.
	Signing *SigningConfig `yaml:"signing" json:"signing,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging" json:"logging,omitempty"`
}

// LoadAppConfig loads the complete application configuration from a file.
func LoadAppConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set defaults
	if config.Logging == nil {
		config.Logging = &LoggingConfig{}
	}
	config.Logging.SetDefaults()

	return &config, nil
}
