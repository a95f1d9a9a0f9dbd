package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
)

// SessionDescriptionType enumerates the SDP-like description types a
// decrypted offer/answer body may carry (§6.1).
type SessionDescriptionType string

const (
	SDPTypeOffer    SessionDescriptionType = "offer"
	SDPTypeAnswer   SessionDescriptionType = "answer"
	SDPTypePranswer SessionDescriptionType = "pranswer"
	SDPTypeRollback SessionDescriptionType = "rollback"
)

// ErrMissingDescriptionType is returned when a decrypted SDP payload lacks
// the required `type` field (§4.1.4 setDescription).
var ErrMissingDescriptionType = errors.New("envelope: session description missing type")

func (t SessionDescriptionType) valid() bool {
	switch t {
	case SDPTypeOffer, SDPTypeAnswer, SDPTypePranswer, SDPTypeRollback:
		return true
	default:
		return false
	}
}

// SessionDescription is what an encrypted offer/answer body decrypts to.
type SessionDescription struct {
	Type SessionDescriptionType `json:"type"`
	SDP  string                 `json:"sdp"`
}

// ICECandidate is what an encrypted ice body decrypts to. SDPMLineIndex,
// SDPMid, and UsernameFragment are optional per §6.1.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMLineIndex    *int    `json:"sdpMLineIndex,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// EncryptSessionDescription seals a SessionDescription with the saga's
// shared key, ready to place in an envelope body's EncryptedBody field.
func EncryptSessionDescription(box *sagecrypto.Box, desc SessionDescription) (string, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal session description: %w", err)
	}
	sealed, err := box.Seal(raw)
	if err != nil {
		return "", fmt.Errorf("envelope: seal session description: %w", err)
	}
	return sagecrypto.EncodeBase64(sealed), nil
}

// DecryptSessionDescription reverses EncryptSessionDescription and
// validates the required `type` field.
func DecryptSessionDescription(box *sagecrypto.Box, encryptedBase64 string) (*SessionDescription, error) {
	sealed, err := sagecrypto.DecodeBase64(encryptedBase64)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode session description: %w", err)
	}
	raw, err := box.Open(sealed)
	if err != nil {
		return nil, err
	}
	var desc SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal session description: %w", err)
	}
	if desc.Type == "" {
		return nil, ErrMissingDescriptionType
	}
	if !desc.Type.valid() {
		return nil, fmt.Errorf("envelope: unknown session description type %q", desc.Type)
	}
	return &desc, nil
}

// EncryptICECandidate seals an ICECandidate with the saga's shared key.
func EncryptICECandidate(box *sagecrypto.Box, cand ICECandidate) (string, error) {
	raw, err := json.Marshal(cand)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal ice candidate: %w", err)
	}
	sealed, err := box.Seal(raw)
	if err != nil {
		return "", fmt.Errorf("envelope: seal ice candidate: %w", err)
	}
	return sagecrypto.EncodeBase64(sealed), nil
}

// DecryptICECandidate reverses EncryptICECandidate.
func DecryptICECandidate(box *sagecrypto.Box, encryptedBase64 string) (*ICECandidate, error) {
	sealed, err := sagecrypto.DecodeBase64(encryptedBase64)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode ice candidate: %w", err)
	}
	raw, err := box.Open(sealed)
	if err != nil {
		return nil, err
	}
	var cand ICECandidate
	if err := json.Unmarshal(raw, &cand); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal ice candidate: %w", err)
	}
	return &cand, nil
}

// EncryptMessage seals a plain-text chat message with the saga's shared key.
func EncryptMessage(box *sagecrypto.Box, text string) ([]byte, error) {
	return box.Seal([]byte(text))
}

// DecryptMessage reverses EncryptMessage.
func DecryptMessage(box *sagecrypto.Box, sealed []byte) (string, error) {
	pt, err := box.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
