package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// TemporaryPasswordLength is the length of generated temporary passwords
	TemporaryPasswordLength = 20

	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars  = "23456789"
	symbolChars = "!@#$%^&*()-_=+[]{}"
)

// PasswordGenerator generates temporary passwords for administrator-created
// accounts
type PasswordGenerator interface {
	Generate() (string, error)
}

// RandomPasswordGenerator generates temporary passwords from crypto/rand.
// Every password contains at least one lower-case letter, upper-case letter,
// digit and symbol.
type RandomPasswordGenerator struct {
	Length int
}

// NewRandomPasswordGenerator creates a generator producing
// TemporaryPasswordLength-character passwords
func NewRandomPasswordGenerator() *RandomPasswordGenerator {
	return &RandomPasswordGenerator{Length: TemporaryPasswordLength}
}

// Generate creates a new temporary password
func (g *RandomPasswordGenerator) Generate() (string, error) {
	length := g.Length
	classes := []string{lowerChars, upperChars, digitChars, symbolChars}
	if length < len(classes) {
		return "", fmt.Errorf("password length %d is below the minimum of %d", length, len(classes))
	}

	all := lowerChars + upperChars + digitChars + symbolChars
	buf := make([]byte, 0, length)

	// One character from each class, the rest from the full alphabet
	for _, class := range classes {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for len(buf) < length {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}

	// Fisher-Yates so the guaranteed characters are not always first
	for i := len(buf) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}

	return string(buf), nil
}

func pick(alphabet string) (byte, error) {
	i, err := randInt(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return int(v.Int64()), nil
}
