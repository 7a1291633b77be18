// Package sluggen produces random short codes.
// Generators are safe for concurrent use and do not check uniqueness;
// the store's key constraint does that.
package sluggen

import (
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// DefaultLength is the code length used when callers do not pick one.
	DefaultLength = 8

	base62Chars  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	urlSafeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
)

// Alphabet names a supported symbol set.
type Alphabet string

const (
	URLSafe Alphabet = "urlsafe"
	Base62  Alphabet = "base62"
)

var errNonPositiveLength = errors.New("length must be positive")

// Generator generates short codes.
type Generator interface {
	Generate(length int) (string, error)
}

// New returns the generator for the named alphabet.
func New(a Alphabet) (Generator, error) {
	switch a {
	case URLSafe, "":
		return NewURLSafe(), nil
	case Base62:
		return NewBase62(), nil
	default:
		return nil, fmt.Errorf("unknown alphabet %q", a)
	}
}

// urlSafeGenerator draws from a 64 symbol alphabet, so masking a random
// byte to 6 bits maps uniformly onto it.
type urlSafeGenerator struct{}

// NewURLSafe returns a generator over A-Z a-z 0-9 _ -.
func NewURLSafe() Generator {
	return urlSafeGenerator{}
}

func (urlSafeGenerator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errNonPositiveLength
	}

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = urlSafeChars[b[i]&63]
	}
	return string(b), nil
}

// base62Generator rejects bytes >= 248 (the largest multiple of 62 below
// 256) to keep every symbol equally likely.
type base62Generator struct{}

// NewBase62 returns a generator over 0-9 A-Z a-z.
func NewBase62() Generator {
	return base62Generator{}
}

func (base62Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errNonPositiveLength
	}

	const limit = 256 - 256%len(base62Chars)

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/4+1)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, c := range buf {
			if int(c) >= limit {
				continue
			}
			out = append(out, base62Chars[int(c)%len(base62Chars)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
