package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeKeyIsStable(t *testing.T) {
	a := DedupeKey("imap.example.com", "alice@example.com", 42)
	b := DedupeKey("imap.example.com", "alice@example.com", 42)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestDedupeKeyVariesByMailboxAndUID(t *testing.T) {
	base := DedupeKey("imap.example.com", "alice@example.com", 42)

	assert.NotEqual(t, base, DedupeKey("imap.example.com", "alice@example.com", 43))
	assert.NotEqual(t, base, DedupeKey("imap.example.com", "bob@example.com", 42))
	assert.NotEqual(t, base, DedupeKey("imap.other.com", "alice@example.com", 42))
}

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "abc@mail.example.com", NormalizeMessageID("<abc@mail.example.com>"))
	assert.Equal(t, "abc@mail.example.com", NormalizeMessageID("  <abc@mail.example.com> "))
	assert.Equal(t, "abc@mail.example.com", NormalizeMessageID("abc@mail.example.com"))
	assert.Equal(t, "", NormalizeMessageID("  "))
}

func TestConfigAddr(t *testing.T) {
	cfg := Config{Host: "imap.example.com", Port: 993}
	assert.Equal(t, "imap.example.com:993", cfg.Addr())
}
