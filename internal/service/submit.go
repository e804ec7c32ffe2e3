package service

import (
	"portal-auth/internal/audit"
	"portal-auth/internal/config"
	"portal-auth/internal/util"
)

// SubmitRequest carries one free-text submission (meter reading, support
// request, generic form) through the gate stack.
type SubmitRequest struct {
	Content       string
	Identifier    string
	Action        config.ActionKind
	HoneypotValue string
}

// SubmitText runs a free-text submission through the honeypot, the client
// throttle, the per-action limit, and the spam detector. Every accepted or
// spam-flagged submission counts against the action's quota; only the
// honeypot path leaves no trace.
func (s *AuthService) SubmitText(req SubmitRequest) (*Result, error) {
	if s.honeypot.IsBot(req.HoneypotValue) {
		s.auditor.Record(audit.EventBotDetected, req.Identifier, "honeypot tripped on submission")
		return &Result{OK: false, Silent: true}, nil
	}

	if gate := s.outerGate(req.Identifier, req.Action); gate != nil {
		return gate, nil
	}

	verdict := s.detector.Check(req.Content, req.Identifier)
	s.limiter.RecordAttempt(req.Identifier, req.Action, false)

	if verdict.IsSpam {
		util.Warn("submission rejected as spam",
			util.String("identifier", req.Identifier),
			util.String("action", string(req.Action)),
			util.String("reason", verdict.Reason),
			util.Int("confidence", verdict.Confidence),
		)
		return &Result{
			OK:             false,
			Message:        "Сообщение отклонено: " + verdict.Reason,
			SpamReason:     verdict.Reason,
			SpamConfidence: verdict.Confidence,
		}, nil
	}

	return &Result{OK: true, SpamConfidence: verdict.Confidence}, nil
}
