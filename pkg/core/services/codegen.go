package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	DefaultCodeLength        = 6
	DefaultMaxCodeLength     = 12
	DefaultAttemptsPerLength = 8
)

// GeneratorConfig bounds the collision retry loop. After AttemptsPerLength
// collisions at one length the generator moves to the next length, up to
// MaxLength.
type GeneratorConfig struct {
	Length            int
	MaxLength         int
	AttemptsPerLength int
}

func (c GeneratorConfig) withDefaults() GeneratorConfig {
	if c.Length <= 0 {
		c.Length = DefaultCodeLength
	}
	if c.MaxLength < c.Length {
		c.MaxLength = c.Length
		if c.Length < DefaultMaxCodeLength {
			c.MaxLength = DefaultMaxCodeLength
		}
	}
	if c.AttemptsPerLength <= 0 {
		c.AttemptsPerLength = DefaultAttemptsPerLength
	}
	return c
}

// CodeGenerator draws random base62 codes and pre-checks them against the
// repository. The check does not reserve the code.
type CodeGenerator struct {
	repo ports.LinkRepository
	cfg  GeneratorConfig
	log  zerolog.Logger
	rand func(length int) (string, error)
}

func NewCodeGenerator(repo ports.LinkRepository, cfg GeneratorConfig, log zerolog.Logger) *CodeGenerator {
	return &CodeGenerator{
		repo: repo,
		cfg:  cfg.withDefaults(),
		log:  log,
		rand: generateShortCode,
	}
}

func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	for length := g.cfg.Length; length <= g.cfg.MaxLength; length++ {
		for attempt := 0; attempt < g.cfg.AttemptsPerLength; attempt++ {
			code, err := g.rand(length)
			if err != nil {
				return "", err
			}

			taken := IsReserved(code)
			if !taken {
				if taken, err = g.repo.Exists(ctx, code); err != nil {
					return "", storeError("check code", err)
				}
			}
			if !taken {
				return code, nil
			}
			g.log.Debug().Str("code", code).Int("attempt", attempt+1).Msg("generated code collided")
		}
		g.log.Warn().Int("length", length).Msg("code collisions hit the retry ceiling, widening")
	}
	return "", domain.ErrCodeSpaceExhausted
}

func generateShortCode(length int) (string, error) {
	b := make([]byte, length)
	size := big.NewInt(int64(len(charset)))
	for i := range b {
		num, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b[i] = charset[num.Int64()]
	}
	return string(b), nil
}

// IsValidCode reports whether s could have been produced by the generator.
func IsValidCode(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlnum(s[i]) {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
