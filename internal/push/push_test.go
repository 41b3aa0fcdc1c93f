package push

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	if pub == "" || priv == "" {
		t.Error("expected non-empty key pair")
	}
	if pub == priv {
		t.Error("public and private keys should differ")
	}
}

func TestEncodePayloadSmallUnchanged(t *testing.T) {
	p := Payload{Title: "Hello", Message: "short", Type: "info"}
	data, err := encodePayload(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out Payload
	json.Unmarshal(data, &out)
	if out.Message != "short" {
		t.Errorf("message = %q, want untouched", out.Message)
	}
}

func TestEncodePayloadTruncatesMessage(t *testing.T) {
	p := Payload{
		Title:   "Big",
		Message: strings.Repeat("m", 5000),
	}
	data, err := encodePayload(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) > maxPayloadBytes {
		t.Fatalf("payload = %d bytes, want <= %d", len(data), maxPayloadBytes)
	}
	var out Payload
	json.Unmarshal(data, &out)
	if len(out.Message) != 100 || !strings.HasSuffix(out.Message, "...") {
		t.Errorf("message len = %d suffix ok = %v, want 100 ending in ...", len(out.Message), strings.HasSuffix(out.Message, "..."))
	}
}

func TestEncodePayloadReplacesOversizedContext(t *testing.T) {
	ctx := make(map[string]any)
	for i := 0; i < 100; i++ {
		ctx[fmt.Sprintf("key_%03d", i)] = strings.Repeat("v", 100)
	}
	p := Payload{Title: "Big context", Message: "short", Context: ctx}
	data, err := encodePayload(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) > maxPayloadBytes {
		t.Fatalf("payload = %d bytes, want <= %d", len(data), maxPayloadBytes)
	}
	var out Payload
	json.Unmarshal(data, &out)
	if out.Context["note"] == nil {
		t.Error("expected context replaced with a truncation note")
	}
	if out.Message != "short" {
		t.Errorf("message = %q, want untouched when only context is oversized", out.Message)
	}
}
