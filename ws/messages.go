package ws

import (
	"encoding/json"

	"github.com/abyssmine/abyss-backend/service"
)

const (
	TypeMine         = "mine"
	TypeMove         = "move"
	TypeMineResult   = "mine_result"
	TypeNodeClaimed  = "node_claimed"
	TypeMoveRejected = "move_rejected"
	TypeError        = "error"
)

// Envelope carries only the discriminator; payloads decode a second time
// into their concrete message type.
type Envelope struct {
	Type string `json:"type"`
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

type MineMsg struct {
	Type          string           `json:"type"`
	NodeID        string           `json:"nodeId"`
	SessionID     string           `json:"sessionId"`
	WalletAddress string           `json:"walletAddress"`
	AttemptID     string           `json:"attemptId"`
	Position      service.Position `json:"position"`
}

type MoveMsg struct {
	Type     string           `json:"type"`
	Position service.Position `json:"position"`
}

type MineResultMsg struct {
	Type         string `json:"type"`
	AttemptID    string `json:"attemptId"`
	Success      bool   `json:"success"`
	ResourceType string `json:"resourceType,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type NodeClaimedMsg struct {
	Type      string `json:"type"`
	NodeID    string `json:"nodeId"`
	ClaimedBy string `json:"claimedBy"`
}

type MoveRejectedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code"`
}
