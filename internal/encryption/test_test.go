package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func TestTestEncryptor(t *testing.T) {
	t.Parallel()

	e := NewTestEncryptor()
	if err := e.GenerateKeys("anything"); err != nil {
		t.Fatalf("GenerateKeys() error = %v", err)
	}
	if !e.generated || !e.HasKeys() {
		t.Error("keys not reported after GenerateKeys")
	}

	inputs := map[string][]byte{
		"text":   []byte("hello world"),
		"empty":  {},
		"binary": {0x00, 0xff, 0x01, 0xfe},
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			var first, second bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(input), &first); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if err := e.Encrypt(bytes.NewReader(input), &second); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !bytes.Equal(first.Bytes(), second.Bytes()) {
				t.Error("output is not deterministic")
			}
			if !bytes.HasPrefix(first.Bytes(), testMagic) {
				t.Error("output does not start with the marker")
			}

			d, _ := e.Unlock("")
			var plain bytes.Buffer
			if err := d.Decrypt(&first, &plain); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(plain.Bytes(), input) {
				t.Errorf("round trip = %q, want %q", plain.Bytes(), input)
			}
		})
	}
}

func TestTestDecryptor_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "truncated", input: []byte("BOW")},
		{name: "wrong marker", input: []byte("NOT A SEALED FILE")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := TestDecryptor{}.Decrypt(bytes.NewReader(tt.input), &out)
			if err == nil {
				t.Fatal("Decrypt() should fail")
			}
			if tt.name == "wrong marker" && !errors.Is(err, ErrNotSealed) {
				t.Errorf("error = %v, want ErrNotSealed", err)
			}
		})
	}
}
