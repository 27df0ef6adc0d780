package oribot

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/crypto/argon2"
)

var (
	argon2Time    uint32 = 1
	argon2Memory  uint32 = 64 * 1024
	argon2Threads uint8  = 4
	argon2KeyLen  uint32 = 32
)

// truncate shortens the input string to a specified number of characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// chunkMessage splits text into pieces that fit under Discord's
// message length limit, preferring newline boundaries and keeping
// code blocks balanced across pieces.
func chunkMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	openBlock := false
	for len(text) > 0 {
		end := limit
		if openBlock {
			end -= 3 // room for the reopened code fence
		}
		if len(text) <= end {
			chunk := text
			if openBlock {
				chunk = "```" + chunk
			}
			chunks = append(chunks, chunk)
			break
		}
		cut := strings.LastIndexByte(text[:end], '\n')
		if cut <= 0 {
			cut = end
		}
		chunk := text[:cut]
		text = strings.TrimPrefix(text[cut:], "\n")

		if openBlock {
			chunk = "```" + chunk
		}
		openBlock = strings.Count(chunk, "```")%2 == 1
		if openBlock {
			chunk += "```"
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// discordInteractionOptions maps an interaction's options by name.
func discordInteractionOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return optionMap
}

// HashPassword securely hashes a password using Argon2id
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		argon2Time,
		argon2Memory,
		argon2Threads,
		argon2KeyLen,
	)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	// Format: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encodedHash := fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory,
		argon2Time,
		argon2Threads,
		b64Salt,
		b64Hash,
	)

	return encodedHash, nil
}

// verifyPassword checks if the provided password matches the stored hash
func verifyPassword(storedHash, password string) (bool, error) {
	parts := strings.Split(storedHash, "$")
	if len(parts) != 6 {
		return false, errors.New("invalid hash format")
	}

	var memory, argonTime, threads int
	_, err := fmt.Sscanf(
		parts[3],
		"m=%d,t=%d,p=%d",
		&memory,
		&argonTime,
		&threads,
	)
	if err != nil {
		return false, errors.New("invalid hash format")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errors.New("invalid salt")
	}

	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errors.New("invalid hash")
	}

	hashToCompare := argon2.IDKey(
		[]byte(password),
		salt,
		uint32(argonTime),
		uint32(memory),
		uint8(threads),
		uint32(len(decodedHash)),
	)

	return subtle.ConstantTimeCompare(decodedHash, hashToCompare) == 1, nil
}

// derive64ByteKey stretches the configured API secret into a 64-byte
// cookie signing key.
func derive64ByteKey(secret string) []byte {
	sum := sha512.Sum512([]byte(secret))
	return sum[:]
}

func stringPointerValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolPointer(b bool) *bool {
	return &b
}
