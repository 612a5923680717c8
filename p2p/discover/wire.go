package discover

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// wireMessage is the on-the-wire envelope for the minimal ping/pong/
// find-node protocol used to establish sessions and populate buckets.
// The discv5 handshake's cryptographic session layer is out of scope
//; this is the narrow transport sufficient to drive the
// coordinator logic that IS in scope over a real UDP socket.
type wireMessage struct {
	Kind       string
	FromRecord string   // enr.Record.Marshal() of the sender
	Target     [32]byte // for "findnode"
	Records    []string // marshaled records, for "nodes"
}

func encodeWire(m wireMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("discover: encode wire message: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeWire(b []byte) (wireMessage, error) {
	var m wireMessage
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&m); err != nil {
		return wireMessage{}, fmt.Errorf("discover: decode wire message: %w", err)
	}
	return m, nil
}
