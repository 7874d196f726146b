package sshkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const (
	privateKeyName = "ec2herd_key"
	publicKeyName  = "ec2herd_key.pub"
)

// KeyPair is a local RSA key pair. The public half is kept in
// authorized_keys format, ready for an EC2 key pair import.
type KeyPair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      []byte
}

// GetOrGenerate reuses the key pair in keyDir, rebuilding the public
// half from the private key if only that survived, and generates a
// fresh pair when the directory has none.
func GetOrGenerate(keyDir string) (*KeyPair, error) {
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	privatePath := filepath.Join(keyDir, privateKeyName)
	publicPath := filepath.Join(keyDir, publicKeyName)

	if _, err := os.Stat(privatePath); err == nil {
		if public, err := os.ReadFile(publicPath); err == nil {
			return &KeyPair{
				PrivateKeyPath: privatePath,
				PublicKeyPath:  publicPath,
				PublicKey:      public,
			}, nil
		}
		return rederivePublic(privatePath, publicPath)
	}

	return generate(privatePath, publicPath)
}

func generate(privatePath, publicPath string) (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	if err := os.WriteFile(privatePath, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	return writePublic(&key.PublicKey, privatePath, publicPath)
}

func rederivePublic(privatePath, publicPath string) (*KeyPair, error) {
	data, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("private key %s is not PEM encoded", privatePath)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return writePublic(&key.PublicKey, privatePath, publicPath)
}

func writePublic(key *rsa.PublicKey, privatePath, publicPath string) (*KeyPair, error) {
	sshKey, err := ssh.NewPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build public key: %w", err)
	}
	public := ssh.MarshalAuthorizedKey(sshKey)

	if err := os.WriteFile(publicPath, public, 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return &KeyPair{
		PrivateKeyPath: privatePath,
		PublicKeyPath:  publicPath,
		PublicKey:      public,
	}, nil
}
