package bankredirect

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// loadPrivateKey reads the merchant signing key from a PEM file (PKCS#1 or PKCS#8)
// or from a PKCS#12 keystore when the file ends in .p12 / .pfx.
func loadPrivateKey(path, password string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read merchant key: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		key, _, err := pkcs12.Decode(data, password)
		if err != nil {
			return nil, fmt.Errorf("decode keystore: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("keystore does not hold an RSA key")
		}
		return rsaKey, nil
	}

	return parsePrivateKeyPEM(data)
}

func parsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("merchant key is not PEM encoded")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse merchant key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("merchant key is not RSA")
	}
	return key, nil
}

// loadPublicKey reads the bank's verification key from a PEM public key or certificate.
func loadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bank key: %w", err)
	}
	return parsePublicKeyPEM(data)
}

func parsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("bank key is not PEM encoded")
	}

	var pub any
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse bank certificate: %w", err)
		}
		pub = cert.PublicKey
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse bank key: %w", err)
		}
		pub = parsed
	}

	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("bank key is not RSA")
	}
	return key, nil
}
