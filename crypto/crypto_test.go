package crypto

import "testing"

func TestSigningRoundTrip(t *testing.T) {
	kp, err := GenerateSigningKeyPair(DefaultRNG)
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}
	msg := []byte("hello bitchat")
	sig := kp.Sign(msg)
	if err := VerifySignature(kp.Public, msg, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xFF
	if err := VerifySignature(kp.Public, tampered, sig); err == nil {
		t.Fatalf("expected signature verification to fail on tampered message")
	}
}

func TestSigningFromSeedDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	a, err := SigningKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("SigningKeyPairFromSeed: %v", err)
	}
	b, err := SigningKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("SigningKeyPairFromSeed: %v", err)
	}
	if string(a.Public) != string(b.Public) {
		t.Fatalf("same seed produced different public keys")
	}
}

func TestFingerprintStable(t *testing.T) {
	kp, _ := GenerateX25519KeyPair(DefaultRNG)
	a := FingerprintOf(kp.Public)
	b := FingerprintOf(kp.Public)
	if a != b {
		t.Fatalf("fingerprint not stable across calls")
	}
}

func TestNoiseXXHandshakeAndTransport(t *testing.T) {
	initStatic, err := GenerateX25519KeyPair(DefaultRNG)
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}
	respStatic, err := GenerateX25519KeyPair(DefaultRNG)
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}

	init, err := NewHandshake(Initiator, *initStatic, DefaultRNG)
	if err != nil {
		t.Fatalf("NewHandshake initiator: %v", err)
	}
	resp, err := NewHandshake(Responder, *respStatic, DefaultRNG)
	if err != nil {
		t.Fatalf("NewHandshake responder: %v", err)
	}

	// Message 1: -> e
	msg1, ciphers, err := init.WriteMessage(nil)
	if err != nil {
		t.Fatalf("init.WriteMessage(1): %v", err)
	}
	if ciphers != nil {
		t.Fatalf("handshake completed too early on initiator")
	}
	if _, _, err := resp.ReadMessage(msg1); err != nil {
		t.Fatalf("resp.ReadMessage(1): %v", err)
	}

	// Message 2: <- e, ee, s, es
	msg2, ciphers, err := resp.WriteMessage(nil)
	if err != nil {
		t.Fatalf("resp.WriteMessage(2): %v", err)
	}
	if ciphers != nil {
		t.Fatalf("handshake completed too early on responder")
	}
	if _, _, err := init.ReadMessage(msg2); err != nil {
		t.Fatalf("init.ReadMessage(2): %v", err)
	}

	// Message 3: -> s, se
	msg3, initCiphers, err := init.WriteMessage(nil)
	if err != nil {
		t.Fatalf("init.WriteMessage(3): %v", err)
	}
	if initCiphers == nil {
		t.Fatalf("initiator handshake did not complete after message 3")
	}
	_, respCiphers, err := resp.ReadMessage(msg3)
	if err != nil {
		t.Fatalf("resp.ReadMessage(3): %v", err)
	}
	if respCiphers == nil {
		t.Fatalf("responder handshake did not complete after message 3")
	}

	peerOfInit, ok := init.PeerStatic()
	if !ok || string(peerOfInit) != string(respStatic.Public) {
		t.Fatalf("initiator did not authenticate responder's static key")
	}
	peerOfResp, ok := resp.PeerStatic()
	if !ok || string(peerOfResp) != string(initStatic.Public) {
		t.Fatalf("responder did not authenticate initiator's static key")
	}

	plaintext := []byte("hi")
	ciphertext := Encrypt(initCiphers.Send, nil, plaintext)
	opened, err := Decrypt(respCiphers.Recv, nil, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("got %q, want %q", opened, plaintext)
	}
}
