package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2MaxLen is the argon2i input cap. Not an algorithmic limit, but very
// long inputs would turn the memory-hard function into a DoS vector.
const Argon2MaxLen = 4096

const (
	argon2ID          = "argon2i"
	argon2SaltLength  = 16
	argon2KeyLength   = 32
	argon2DefMemoryKB = 64 * 1024
	argon2DefTime     = 3
	argon2DefThreads  = 2
)

// Argon2Options configures the argon2i encoder. Zero values select the
// defaults (64 MiB, 3 passes, 2 threads).
type Argon2Options struct {
	MemoryKB uint32 `yaml:"memory_cost"`
	Time     uint32 `yaml:"time_cost"`
	Threads  uint8  `yaml:"threads"`
}

// Argon2i hashes passwords with the argon2i variant, serialized as a PHC
// string carrying the cost parameters and salt.
type Argon2i struct {
	opts Argon2Options
}

// NewArgon2i validates the options and returns an argon2i encoder.
func NewArgon2i(opts Argon2Options) (*Argon2i, error) {
	if opts.MemoryKB == 0 {
		opts.MemoryKB = argon2DefMemoryKB
	}
	if opts.Time == 0 {
		opts.Time = argon2DefTime
	}
	if opts.Threads == 0 {
		opts.Threads = argon2DefThreads
	}
	if opts.Time < 1 {
		return nil, errors.New("argon2 time cost must be positive")
	}
	if opts.MemoryKB < 8*uint32(opts.Threads) {
		return nil, errors.New("argon2 memory cost must be at least 8 KB per thread")
	}
	return &Argon2i{opts: opts}, nil
}

func (a *Argon2i) Encode(raw string) (string, error) {
	if len(raw) > Argon2MaxLen {
		return "", lengthError(Argon2MaxLen)
	}

	salt := make([]byte, argon2SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.Key([]byte(raw), salt, a.opts.Time, a.opts.MemoryKB, a.opts.Threads, argon2KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		a.opts.MemoryKB,
		a.opts.Time,
		a.opts.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func (a *Argon2i) IsValid(encoded, raw string) bool {
	if len(raw) > Argon2MaxLen {
		return false
	}
	parsed, err := parseArgon2(encoded)
	if err != nil {
		return false
	}
	computed := argon2.Key([]byte(raw), parsed.salt, parsed.time, parsed.memory, parsed.threads, uint32(len(parsed.hash)))
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1
}

func (a *Argon2i) NeedsRehash(encoded string) bool {
	parsed, err := parseArgon2(encoded)
	if err != nil {
		return true
	}
	return parsed.memory != a.opts.MemoryKB ||
		parsed.time != a.opts.Time ||
		parsed.threads != a.opts.Threads ||
		uint32(len(parsed.hash)) != argon2KeyLength
}

func (a *Argon2i) MaxAllowedLen() int {
	return Argon2MaxLen
}

type parsedArgon2 struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	hash    []byte
}

func parseArgon2(encoded string) (*parsedArgon2, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != argon2ID {
		return nil, errors.New("unsupported algorithm")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if !strings.HasPrefix(parts[2], "v=") || err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var p parsedArgon2
	pairs := strings.Split(parts[3], ",")
	if len(pairs) != 3 {
		return nil, errors.New("invalid parameter format")
	}
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v == 0 {
				return nil, errors.New("invalid memory parameter")
			}
			p.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v == 0 {
				return nil, errors.New("invalid time parameter")
			}
			p.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v == 0 {
				return nil, errors.New("invalid parallelism parameter")
			}
			p.threads = uint8(v)
		default:
			return nil, errors.New("unsupported parameter")
		}
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return nil, errors.New("missing parameters")
	}

	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) == 0 {
		return nil, errors.New("invalid salt encoding")
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.hash) == 0 {
		return nil, errors.New("invalid hash encoding")
	}
	return &p, nil
}
