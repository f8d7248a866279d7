package broadcast

import (
	"context"

	"clipbot/internal/session"
	logx "clipbot/pkg/logx"
)

func (s *Service) begin(adminID int64) (*runState, error) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if _, busy := s.active[adminID]; busy {
		return nil, ErrBusy
	}
	st := &runState{cancel: make(chan struct{})}
	s.active[adminID] = st
	return st, nil
}

func (s *Service) end(adminID int64, st *runState) {
	s.activeMu.Lock()
	if s.active[adminID] == st {
		delete(s.active, adminID)
	}
	s.activeMu.Unlock()
}

func stagedDraft(req Request) (session.Draft, error) {
	if req.Draft == nil {
		return session.Draft{}, ErrNothingStaged
	}
	d := req.Draft.Clone()
	if err := d.Validate(); err != nil {
		return session.Draft{}, ErrNothingStaged
	}
	return d, nil
}

// Submit queues a background run. It fails fast with ErrNothingStaged,
// ErrBusy (this admin already has a run queued or in flight), ErrNotRunning
// or ErrQueueFull. The outcome is delivered to req.OnDone.
func (s *Service) Submit(req Request) error {
	d, err := stagedDraft(req)
	if err != nil {
		return err
	}

	s.mu.Lock()
	running := s.stopCh != nil && s.stopDone == nil
	queue := s.queue
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	st, err := s.begin(req.AdminID)
	if err != nil {
		return err
	}
	select {
	case queue <- job{req: req, draft: d, run: st}:
		s.log.Debug("broadcast queued", logx.Int64("admin_id", req.AdminID), logx.String("draft", d.ID), logx.Int("queue_len", len(queue)))
		return nil
	default:
		s.end(req.AdminID, st)
		s.log.Warn("broadcast queue full", logx.Int64("admin_id", req.AdminID), logx.Int("queue_cap", cap(queue)))
		return ErrQueueFull
	}
}

// Run executes a broadcast on the calling goroutine.
func (s *Service) Run(ctx context.Context, req Request) (Report, error) {
	d, err := stagedDraft(req)
	if err != nil {
		return Report{AdminID: req.AdminID}, err
	}
	st, err := s.begin(req.AdminID)
	if err != nil {
		return Report{AdminID: req.AdminID, Kind: d.Kind}, err
	}
	defer s.end(req.AdminID, st)
	return s.guardedExecute(ctx, req, d, st)
}

// Cancel stops the admin's queued or running broadcast before its next send.
// It reports whether there was one.
func (s *Service) Cancel(adminID int64) bool {
	s.activeMu.Lock()
	st := s.active[adminID]
	s.activeMu.Unlock()
	if st == nil {
		return false
	}
	st.stop()
	s.log.Info("broadcast cancel requested", logx.Int64("admin_id", adminID))
	return true
}

// Active reports whether the admin has a broadcast queued or running.
func (s *Service) Active(adminID int64) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	_, ok := s.active[adminID]
	return ok
}
