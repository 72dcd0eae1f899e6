// Package password hashes and verifies user passwords with bcrypt. Each hash
// carries its own salt and cost, so hashing the same input twice gives two
// different strings that both verify.
package password

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// MaxLength is the longest password bcrypt can digest.
const MaxLength = 72

var ErrEmpty = errors.New("password is empty")

type Hasher struct {
	cost int
}

// NewHasher falls back to bcrypt.DefaultCost when cost is out of range.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Cost() int {
	return h.cost
}

func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmpty
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify never fails on a malformed hash; it just returns false.
func (h *Hasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// Pool bounds how many bcrypt computations run at once so a burst of logins
// cannot starve the rest of the process of CPU.
type Pool struct {
	hasher *Hasher
	sem    *semaphore.Weighted
	size   int64
}

func NewPool(hasher *Hasher, workers int) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		hasher: hasher,
		sem:    semaphore.NewWeighted(int64(workers)),
		size:   int64(workers),
	}
}

func (p *Pool) Size() int {
	return int(p.size)
}

// Hash waits for a free slot; it only fails on ctx cancellation or bcrypt errors.
func (p *Pool) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	return p.hasher.Hash(plaintext)
}

// Verify returns an error only when ctx is done before a slot frees up.
func (p *Pool) Verify(ctx context.Context, plaintext, hash string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.hasher.Verify(plaintext, hash), nil
}
