package realtime

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/blake2b"
)

// readLoop reads frames until the transport fails or a frame ends the
// connection, then tears it down.
func (s *Service) readLoop(c *Conn) {
	for {
		data, err := c.transport.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				s.logger.Warn().Str("conn_id", c.ID).Int64("limit", s.cfg.MaxFrameSize).Msg("inbound frame too large")
				s.disconnect(c, websocket.CloseMessageTooBig, "frame too large")
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug().Err(err).Str("conn_id", c.ID).Msg("read error")
			}
			s.disconnect(c, websocket.CloseNormalClosure, "transport closed")
			return
		}
		s.metrics.framesIn.Inc()
		if !s.handleFrame(c, data) {
			return
		}
	}
}

// handleFrame dispatches one inbound frame. It reports false when the
// connection has been torn down.
func (s *Service) handleFrame(c *Conn, data []byte) bool {
	c.touch()

	if !c.limiter.Allow() {
		s.reply(c, errorFrame("rate limit exceeded"))
		return true
	}

	f, err := decodeFrame(data)
	if err != nil {
		s.protocolError(c, err, "invalid message format")
		return true
	}

	if f.Type != FrameAuth && c.State() != StateAuthenticated {
		s.reply(c, errorFrame("must authenticate first"))
		return true
	}

	switch f.Type {
	case FrameAuth:
		return s.handleAuth(c, f.Data)
	case FrameSubscribe:
		s.handleSubscription(c, f.Data, true)
	case FrameUnsubscribe:
		s.handleSubscription(c, f.Data, false)
	case FramePing:
		s.reply(c, pongFrame())
	default:
		s.protocolError(c, fmt.Errorf("%w %q", ErrUnknownFrameType, f.Type),
			fmt.Sprintf("unknown message type %q", f.Type))
	}
	return true
}

func decodeFrame(data []byte) (inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return inboundFrame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return inboundFrame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}

// protocolError answers a rejected frame with an error frame. The connection
// stays open.
func (s *Service) protocolError(c *Conn, err error, msg string) {
	s.metrics.protocolErrs.Inc()
	s.logger.Debug().Err(err).Str("conn_id", c.ID).Msg("protocol error")
	s.reply(c, errorFrame(msg))
}

func (s *Service) reply(c *Conn, frame []byte) {
	if !c.enqueue(frame) {
		s.metrics.dropped.Inc()
	}
}

func (s *Service) handleAuth(c *Conn, raw json.RawMessage) bool {
	if c.State() == StateAuthenticated {
		s.reply(c, errorFrame("already authenticated"))
		return true
	}

	id, err := s.authenticate(raw)
	if err != nil {
		s.metrics.authFailures.Inc()
		s.logger.Info().Err(err).Str("conn_id", c.ID).Str("remote_addr", c.RemoteAddr).Msg("authentication failed")
		s.reply(c, errorFrame("authentication failed"))
		s.disconnect(c, websocket.ClosePolicyViolation, "authentication failed")
		return false
	}

	// The audit row goes in while the connection is still unauthenticated, so
	// a disconnect can only retire it after it exists.
	recorded := s.recordConnection(c, id)
	if _, err := s.registry.Authenticate(c.ID, id.SubjectID, id.TenantID); err != nil {
		// Closed while the token was being verified or recorded.
		if recorded {
			s.retireConnection(c.ID, "closed during authentication")
		}
		return false
	}
	channels := []string{TenantChannel(id.TenantID), SubjectChannel(id.SubjectID)}
	for _, ch := range channels {
		if err := s.registry.Subscribe(c.ID, ch); err != nil {
			return false
		}
	}

	s.reply(c, mustEncodeFrame(FrameNotification, map[string]interface{}{
		"status":    "authenticated",
		"subjectId": id.SubjectID,
		"tenantId":  id.TenantID,
		"channels":  channels,
	}))

	s.logger.Info().
		Str("conn_id", c.ID).
		Str("subject_id", id.SubjectID).
		Str("tenant_id", id.TenantID).
		Msg("connection authenticated")
	return true
}

// authenticate verifies the auth frame and settles the tenant: a tenant named
// by both token and frame must match, otherwise whichever is present wins.
func (s *Service) authenticate(raw json.RawMessage) (resolvedIdentity, error) {
	var d authData
	if len(raw) == 0 {
		return resolvedIdentity{}, fmt.Errorf("%w: missing token", ErrAuthenticationFailure)
	}
	if err := json.Unmarshal(raw, &d); err != nil || d.Token == "" {
		return resolvedIdentity{}, fmt.Errorf("%w: missing token", ErrAuthenticationFailure)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.AuthTimeout)
	defer cancel()
	ident, err := s.verifier.VerifyToken(ctx, d.Token)
	if err != nil {
		return resolvedIdentity{}, fmt.Errorf("%w: %w", ErrAuthenticationFailure, err)
	}
	if ident.SubjectID == "" {
		return resolvedIdentity{}, fmt.Errorf("%w: token has no subject", ErrAuthenticationFailure)
	}

	tenant := ident.TenantID
	if d.TenantID != "" {
		if tenant != "" && tenant != d.TenantID {
			return resolvedIdentity{}, fmt.Errorf("%w: tenant mismatch", ErrAuthenticationFailure)
		}
		tenant = d.TenantID
	}
	if tenant == "" {
		return resolvedIdentity{}, fmt.Errorf("%w: no tenant", ErrAuthenticationFailure)
	}
	return resolvedIdentity{
		Identity:    Identity{SubjectID: ident.SubjectID, TenantID: tenant},
		fingerprint: tokenFingerprint(d.Token),
	}, nil
}

type resolvedIdentity struct {
	Identity
	fingerprint string
}

func (s *Service) handleSubscription(c *Conn, raw json.RawMessage, subscribe bool) {
	var d channelData
	if len(raw) == 0 || json.Unmarshal(raw, &d) != nil || d.Channel == "" {
		s.reply(c, errorFrame("channel is required"))
		return
	}
	if !validChannel(d.Channel) {
		s.reply(c, errorFrame("invalid channel name"))
		return
	}

	op, key := s.registry.Unsubscribe, "unsubscribed"
	if subscribe {
		op, key = s.registry.Subscribe, "subscribed"
	}
	if err := op(c.ID, d.Channel); err != nil {
		return
	}
	s.reply(c, mustEncodeFrame(FrameNotification, map[string]string{key: d.Channel}))
}

// recordConnection writes the audit row for c and reports whether it was
// stored.
func (s *Service) recordConnection(c *Conn, id resolvedIdentity) bool {
	if s.recorder == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(s.ctx, auditTimeout)
	defer cancel()
	err := s.recorder.RecordConnection(ctx, ConnectionRecord{
		ConnectionID:     c.ID,
		SubjectID:        id.SubjectID,
		TenantID:         id.TenantID,
		RemoteAddr:       c.RemoteAddr,
		TokenFingerprint: id.fingerprint,
		ConnectedAt:      c.ConnectedAt,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("conn_id", c.ID).Msg("record connection audit entry")
		return false
	}
	return true
}

func (s *Service) retireConnection(connID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := s.recorder.RetireConnection(ctx, connID, reason, time.Now().UTC()); err != nil {
		s.logger.Warn().Err(err).Str("conn_id", connID).Msg("retire connection audit record")
	}
}

// tokenFingerprint identifies a token in audit rows without storing it.
func tokenFingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}
