package wire

import (
	"bytes"
	"testing"
	"time"
)

func samplePacket() *Packet {
	p := &Packet{
		Version:     Version1,
		MessageType: MessageTypeMessage,
		TTL:         DefaultTTL,
		Timestamp:   time.UnixMilli(1700000000000).UTC(),
		Payload:     []byte("hello"),
	}
	p.SenderID[0] = 0x01
	return p
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		mod  func(p *Packet)
	}{
		{"plain", func(p *Packet) {}},
		{"with_recipient", func(p *Packet) {
			p.HasRecipient = true
			p.RecipientID[0] = 0x02
		}},
		{"with_signature", func(p *Packet) {
			p.HasSignature = true
			for i := range p.Signature {
				p.Signature[i] = byte(i)
			}
		}},
		{"with_recipient_and_signature", func(p *Packet) {
			p.HasRecipient = true
			p.RecipientID[0] = 0x02
			p.HasSignature = true
			for i := range p.Signature {
				p.Signature[i] = byte(i)
			}
		}},
		{"v2_large_payload", func(p *Packet) {
			p.Version = Version2
			p.Payload = bytes.Repeat([]byte{0xAB}, 1000)
		}},
		{"empty_payload", func(p *Packet) {
			p.Payload = nil
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := samplePacket()
			tc.mod(p)

			encoded, err := Encode(p)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			reencoded, err := Encode(decoded)
			if err != nil {
				t.Fatalf("re-Encode: %v", err)
			}
			if !bytes.Equal(encoded, reencoded) {
				t.Fatalf("encode(decode(encode(p))) != encode(p)")
			}

			if decoded.Version != p.Version ||
				decoded.MessageType != p.MessageType ||
				decoded.TTL != p.TTL ||
				decoded.SenderID != p.SenderID ||
				decoded.HasRecipient != p.HasRecipient ||
				decoded.HasSignature != p.HasSignature ||
				!bytes.Equal(decoded.Payload, p.Payload) {
				t.Fatalf("decoded packet does not match original: %+v vs %+v", decoded, p)
			}
			if decoded.HasRecipient && decoded.RecipientID != p.RecipientID {
				t.Fatalf("recipient mismatch")
			}
			if decoded.HasSignature && decoded.Signature != p.Signature {
				t.Fatalf("signature mismatch")
			}
			if !decoded.Timestamp.Equal(p.Timestamp) {
				t.Fatalf("timestamp mismatch: %v vs %v", decoded.Timestamp, p.Timestamp)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	p := samplePacket()
	encoded, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	t.Run("truncated_header", func(t *testing.T) {
		if _, err := Decode(encoded[:5]); err != ErrTruncatedHeader {
			t.Fatalf("got %v, want ErrTruncatedHeader", err)
		}
	})

	t.Run("invalid_version", func(t *testing.T) {
		bad := append([]byte(nil), encoded...)
		bad[0] = 9
		if _, err := Decode(bad); err != ErrInvalidVersion {
			t.Fatalf("got %v, want ErrInvalidVersion", err)
		}
	})

	t.Run("invalid_type", func(t *testing.T) {
		bad := append([]byte(nil), encoded...)
		bad[1] = 0xFE
		if _, err := Decode(bad); err != ErrInvalidType {
			t.Fatalf("got %v, want ErrInvalidType", err)
		}
	})

	t.Run("unknown_flag", func(t *testing.T) {
		bad := append([]byte(nil), encoded...)
		bad[11] |= 0x80
		if _, err := Decode(bad); err != ErrUnknownFlag {
			t.Fatalf("got %v, want ErrUnknownFlag", err)
		}
	})

	t.Run("truncated_payload", func(t *testing.T) {
		if _, err := Decode(encoded[:len(encoded)-2]); err != ErrTruncatedPayload {
			t.Fatalf("got %v, want ErrTruncatedPayload", err)
		}
	})
}

func TestPayloadTooLargeV1(t *testing.T) {
	p := samplePacket()
	p.Payload = bytes.Repeat([]byte{0}, 256)
	if _, err := Encode(p); err != ErrPayloadTooLarge {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestSignableBytesExcludesSignature(t *testing.T) {
	p := samplePacket()
	p.HasSignature = true
	signable, err := SignableBytes(p)
	if err != nil {
		t.Fatalf("SignableBytes: %v", err)
	}

	p.Signature[0] = 0xFF
	signable2, err := SignableBytes(p)
	if err != nil {
		t.Fatalf("SignableBytes: %v", err)
	}
	if !bytes.Equal(signable, signable2) {
		t.Fatalf("signable bytes changed when only signature bytes changed")
	}

	encoded, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(encoded, signable) {
		t.Fatalf("encoded packet does not begin with its signable bytes")
	}
}

func TestBroadcastPeer(t *testing.T) {
	if !BroadcastPeer.IsBroadcast() {
		t.Fatalf("BroadcastPeer.IsBroadcast() = false")
	}
	var other PeerID
	if other.IsBroadcast() {
		t.Fatalf("zero PeerID reported as broadcast")
	}
}
