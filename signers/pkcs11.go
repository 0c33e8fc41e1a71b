package signers

import (
	"crypto"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sync"

	pkcs11 "github.com/miekg/pkcs11"

	"github.com/georgepadayatti/gocades/cms"
)

// PKCS#11 related errors
var (
	ErrPKCS11ModuleLoad    = errors.New("failed to load PKCS#11 module")
	ErrPKCS11NoToken       = errors.New("no matching token found")
	ErrPKCS11NoKey         = errors.New("private key not found")
	ErrPKCS11SessionFailed = errors.New("failed to open PKCS#11 session")
	ErrPKCS11LoginFailed   = errors.New("PKCS#11 login failed")
	ErrPKCS11SignFailed    = errors.New("PKCS#11 signing failed")
)

// digestInfoPrefixes are the DER DigestInfo headers prepended to a raw
// digest for CKM_RSA_PKCS signing.
var digestInfoPrefixes = map[crypto.Hash][]byte{
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

// PKCS11Session wraps an initialized PKCS#11 module with an open,
// logged-in session on a token.
type PKCS11Session struct {
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle

	mu sync.Mutex
}

// OpenPKCS11Session loads the module, locates the slot whose token label
// matches tokenLabel (any slot if empty), opens a session and logs in with
// the given PIN.
func OpenPKCS11Session(modulePath, tokenLabel, pin string) (*PKCS11Session, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("%w: %s", ErrPKCS11ModuleLoad, modulePath)
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("%w: %w", ErrPKCS11ModuleLoad, err)
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil || len(slots) == 0 {
		ctx.Finalize()
		ctx.Destroy()
		return nil, fmt.Errorf("%w: %v", ErrPKCS11NoToken, err)
	}

	slotID := slots[0]
	if tokenLabel != "" {
		found := false
		for _, slot := range slots {
			info, tErr := ctx.GetTokenInfo(slot)
			if tErr == nil && info.Label == tokenLabel {
				slotID = slot
				found = true
				break
			}
		}
		if !found {
			ctx.Finalize()
			ctx.Destroy()
			return nil, fmt.Errorf("%w: label %q", ErrPKCS11NoToken, tokenLabel)
		}
	}

	session, err := ctx.OpenSession(slotID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		ctx.Finalize()
		ctx.Destroy()
		return nil, fmt.Errorf("%w: %w", ErrPKCS11SessionFailed, err)
	}
	if pin != "" {
		if err := ctx.Login(session, pkcs11.CKU_USER, pin); err != nil {
			ctx.CloseSession(session)
			ctx.Finalize()
			ctx.Destroy()
			return nil, fmt.Errorf("%w: %w", ErrPKCS11LoginFailed, err)
		}
	}
	return &PKCS11Session{ctx: ctx, session: session}, nil
}

// Close closes the session and unloads the module.
func (s *PKCS11Session) Close() error {
	if s.ctx == nil {
		return nil
	}
	err := s.ctx.CloseSession(s.session)
	s.ctx.Finalize()
	s.ctx.Destroy()
	s.ctx = nil
	return err
}

// PKCS11Operator signs through a private key object on a PKCS#11 token.
type PKCS11Operator struct {
	session   *PKCS11Session
	keyHandle pkcs11.ObjectHandle
	alg       cms.SignatureAlgorithm
	ecdsa     bool
}

// NewPKCS11Operator locates the private key identified by label and/or id
// on the session's token and returns an operator for it. family is "rsa"
// or "ecdsa"; digest names the hash algorithm as in NewKeyOperator.
func NewPKCS11Operator(session *PKCS11Session, keyLabel string, keyID []byte, family, digest string) (*PKCS11Operator, error) {
	alg, err := cms.SignatureAlgorithmByName(digest, family)
	if err != nil {
		return nil, err
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
	}
	if keyLabel != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, keyLabel))
	}
	if len(keyID) > 0 {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, keyID))
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if err := session.ctx.FindObjectsInit(session.session, template); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPKCS11NoKey, err)
	}
	handles, _, err := session.ctx.FindObjects(session.session, 2)
	finErr := session.ctx.FindObjectsFinal(session.session)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPKCS11NoKey, err)
	}
	if finErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrPKCS11NoKey, finErr)
	}
	if len(handles) == 0 {
		return nil, fmt.Errorf("%w: label %q", ErrPKCS11NoKey, keyLabel)
	}

	return &PKCS11Operator{
		session:   session,
		keyHandle: handles[0],
		alg:       alg,
		ecdsa:     family == "ecdsa",
	}, nil
}

// Algorithm returns the operator's algorithm pair.
func (o *PKCS11Operator) Algorithm() cms.SignatureAlgorithm {
	return o.alg
}

// SignDigest signs the digest on the token. RSA keys use CKM_RSA_PKCS over
// a DER DigestInfo; ECDSA keys use CKM_ECDSA, and the raw r||s output is
// re-encoded as a DER Ecdsa-Sig-Value.
func (o *PKCS11Operator) SignDigest(digest []byte) ([]byte, error) {
	var mech uint
	input := digest
	if o.ecdsa {
		mech = pkcs11.CKM_ECDSA
	} else {
		mech = pkcs11.CKM_RSA_PKCS
		prefix, ok := digestInfoPrefixes[o.alg.Hash]
		if !ok {
			return nil, fmt.Errorf("%w: no DigestInfo prefix for hash %v", ErrPKCS11SignFailed, o.alg.Hash)
		}
		input = append(append([]byte{}, prefix...), digest...)
	}

	o.session.mu.Lock()
	defer o.session.mu.Unlock()
	if err := o.session.ctx.SignInit(o.session.session, []*pkcs11.Mechanism{pkcs11.NewMechanism(mech, nil)}, o.keyHandle); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPKCS11SignFailed, err)
	}
	sig, err := o.session.ctx.Sign(o.session.session, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPKCS11SignFailed, err)
	}

	if o.ecdsa {
		return encodeECDSASignature(sig)
	}
	return sig, nil
}

// encodeECDSASignature converts the token's raw r||s output into a DER
// Ecdsa-Sig-Value.
func encodeECDSASignature(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: unexpected ECDSA signature length %d", ErrPKCS11SignFailed, len(raw))
	}
	half := len(raw) / 2
	r := new(big.Int).SetBytes(raw[:half])
	s := new(big.Int).SetBytes(raw[half:])
	return asn1.Marshal(struct {
		R, S *big.Int
	}{r, s})
}
