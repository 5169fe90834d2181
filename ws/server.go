package ws

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/abyssmine/abyss-backend/service"
)

const (
	writeWait   = 5 * time.Second
	readWait    = 60 * time.Second
	mineTimeout = 5 * time.Second
)

type session struct {
	id     string
	wallet string
	conn   *websocket.Conn

	mu sync.Mutex // guards writes

	posMu      sync.Mutex
	lastPos    service.Position
	lastMoveAt time.Time
	hasPos     bool
}

// write sends one message guarded by the session's write mutex and deadline.
func (s *session) write(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

// Server owns the mining session registry and routes protocol messages to
// the mining service.
type Server struct {
	mining *service.MiningService
	log    *logrus.Logger

	maxTravelUnits  float64
	maxTravelWindow time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	upgrader websocket.Upgrader
}

func NewServer(mining *service.MiningService, maxTravelUnits float64, maxTravelWindow time.Duration, log *logrus.Logger) *Server {
	return &Server{
		mining:          mining,
		log:             log,
		maxTravelUnits:  maxTravelUnits,
		maxTravelWindow: maxTravelWindow,
		sessions:        make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		wallet := r.URL.Query().Get("wallet")
		if wallet == "" {
			http.Error(rw, "wallet required", http.StatusBadRequest)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := &session{
			id:     uuid.NewString(),
			wallet: wallet,
			conn:   conn,
		}
		s.register(sess)
		defer s.unregister(sess)

		ip := clientIP(r)
		userAgent := r.UserAgent()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := DecodeEnvelope(raw)
			if err != nil {
				_ = sess.write(ErrorMsg{Type: TypeError, Error: "malformed message", Code: "BAD_REQUEST"})
				continue
			}
			switch env.Type {
			case TypeMove:
				s.handleMove(sess, raw)
			case TypeMine:
				s.handleMine(sess, raw, ip, userAgent)
			default:
				_ = sess.write(ErrorMsg{Type: TypeError, Error: "unknown message type", Code: "BAD_REQUEST"})
			}
		}
	}
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"session": sess.id, "wallet": sess.wallet}).Info("session joined")
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.log.WithField("session", sess.id).Info("session left")
}

// handleMove applies the physical plausibility gate. An implausible move is
// rejected and does not advance the tracked position.
func (s *Server) handleMove(sess *session, raw []byte) {
	var msg MoveMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		_ = sess.write(ErrorMsg{Type: TypeError, Error: "malformed move", Code: "BAD_REQUEST"})
		return
	}
	if ok := s.advancePosition(sess, msg.Position); !ok {
		_ = sess.write(MoveRejectedMsg{Type: TypeMoveRejected, Reason: "implausible_movement"})
	}
}

func (s *Server) handleMine(sess *session, raw []byte, ip, userAgent string) {
	var msg MineMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.NodeID == "" || msg.AttemptID == "" {
		_ = sess.write(ErrorMsg{Type: TypeError, Error: "malformed mine request", Code: "BAD_REQUEST"})
		return
	}
	if msg.WalletAddress != sess.wallet {
		_ = sess.write(ErrorMsg{Type: TypeError, Error: "wallet does not match session", Code: "UNAUTHORIZED_WALLET"})
		return
	}

	// The mine position is subject to the same plausibility gate as a move;
	// an implausible jump falls back to the last accepted position so range
	// validation judges where the player really is.
	pos := msg.Position
	if ok := s.advancePosition(sess, pos); !ok {
		_ = sess.write(MoveRejectedMsg{Type: TypeMoveRejected, Reason: "implausible_movement"})
		sess.posMu.Lock()
		pos = sess.lastPos
		sess.posMu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), mineTimeout)
	defer cancel()

	result, err := s.mining.Mine(ctx, service.MineRequest{
		Wallet:    sess.wallet,
		NodeID:    msg.NodeID,
		AttemptID: msg.AttemptID,
		SourceIP:  ip,
		UserAgent: userAgent,
		Position:  pos,
	})
	if err != nil {
		s.log.WithError(err).WithField("wallet", sess.wallet).Error("mine request failed")
		_ = sess.write(ErrorMsg{Type: TypeError, Error: "mining unavailable", Code: service.CodeOf(err)})
		return
	}

	_ = sess.write(MineResultMsg{
		Type:         TypeMineResult,
		AttemptID:    msg.AttemptID,
		Success:      result.Success,
		ResourceType: result.ResourceType,
		Amount:       result.Amount,
		Reason:       result.Reason,
	})

	if result.NodeUnavailable {
		s.broadcastExcept(sess.id, NodeClaimedMsg{
			Type:      TypeNodeClaimed,
			NodeID:    msg.NodeID,
			ClaimedBy: sess.wallet,
		})
	}
}

// advancePosition updates the session's tracked position unless the implied
// travel is physically implausible.
func (s *Server) advancePosition(sess *session, pos service.Position) bool {
	sess.posMu.Lock()
	defer sess.posMu.Unlock()
	now := time.Now()
	if sess.hasPos {
		elapsed := now.Sub(sess.lastMoveAt)
		if elapsed <= s.maxTravelWindow && positionDistance(sess.lastPos, pos) > s.maxTravelUnits {
			return false
		}
	}
	sess.lastPos = pos
	sess.lastMoveAt = now
	sess.hasPos = true
	return true
}

func (s *Server) broadcastExcept(sessionID string, v interface{}) {
	s.mu.Lock()
	targets := make([]*session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if id != sessionID {
			targets = append(targets, sess)
		}
	}
	s.mu.Unlock()
	for _, sess := range targets {
		if err := sess.write(v); err != nil {
			s.log.WithError(err).WithField("session", sess.id).Debug("broadcast write failed")
		}
	}
}

func positionDistance(a, b service.Position) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
