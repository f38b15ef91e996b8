package storage

import (
	"bytes"
	"testing"
)

func TestEnvelope(t *testing.T) {
	plain := []byte(`[{"certificate_signing_request":"csr"}]`)

	env := SealValue(plain, 3)
	if env.Ver != 1 {
		t.Errorf("expected format version 1, got %d", env.Ver)
	}
	if env.Version != 3 {
		t.Errorf("expected record version 3, got %d", env.Version)
	}

	got, err := OpenValue(env)
	if err != nil {
		t.Fatalf("OpenValue failed: %v", err)
	}
	if !bytes.Equal(plain, got) {
		t.Errorf("expected %s, got %s", plain, got)
	}

	t.Run("SealCopiesValue", func(t *testing.T) {
		buf := []byte("abc")
		env := SealValue(buf, 1)
		buf[0] = 'X'
		if env.Value[0] != 'a' {
			t.Error("SealValue should not alias the caller's buffer")
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		badEnv := *env
		badEnv.Ver = 99
		if _, err := OpenValue(&badEnv); err == nil {
			t.Error("expected error with unsupported version, got nil")
		}
	})

	t.Run("Nil", func(t *testing.T) {
		if _, err := OpenValue(nil); err == nil {
			t.Error("expected error for nil envelope, got nil")
		}
	})

	t.Run("Clone", func(t *testing.T) {
		cp := CloneEnvelope(env)
		cp.Value[0] = 'X'
		if env.Value[0] == 'X' {
			t.Error("CloneEnvelope should deep copy the value")
		}
		if CloneEnvelope(nil) != nil {
			t.Error("CloneEnvelope(nil) should be nil")
		}
	})
}

func TestSideValid(t *testing.T) {
	if !SideLocal.Valid() || !SideRemote.Valid() {
		t.Error("local and remote should be valid sides")
	}
	if Side("peer").Valid() {
		t.Error("unknown side should be invalid")
	}
}
