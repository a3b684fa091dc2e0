package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"defitown.org/internal/chain"
)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Credentials maps principal addresses to bcrypt password hashes.
type Credentials struct {
	mu     sync.RWMutex
	hashes map[chain.Address]string
}

func NewCredentials() *Credentials {
	return &Credentials{hashes: make(map[chain.Address]string)}
}

// SetHash installs a precomputed bcrypt hash for addr.
func (c *Credentials) SetHash(addr chain.Address, hash string) error {
	if addr == chain.ZeroAddress {
		return fmt.Errorf("%w: zero address", ErrInvalidCredentials)
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[addr] = hash
	return nil
}

func (c *Credentials) SetPassword(addr chain.Address, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return c.SetHash(addr, hash)
}

func (c *Credentials) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes)
}

// Check verifies password for addr. Unknown addresses and wrong passwords
// are indistinguishable to the caller.
func (c *Credentials) Check(addr chain.Address, password string) error {
	c.mu.RLock()
	hash, ok := c.hashes[addr]
	c.mu.RUnlock()
	if !ok || VerifyPassword(hash, password) != nil {
		return ErrInvalidCredentials
	}
	return nil
}
