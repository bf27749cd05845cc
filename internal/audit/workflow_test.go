package audit

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func TestTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     Message
		action  Action
		note    string
		want    State
		wantErr error
	}{
		{"send pending", Message{State: StatePending}, ActionSend, "", StateSent, nil},
		{"report pending", Message{State: StatePending}, ActionReport, "hora mal", StateEscalated, nil},
		{"report without comment", Message{State: StatePending}, ActionReport, " ", StatePending, ErrCommentRequired},
		{"send blocked", Message{State: StateBlocked, Blocked: true}, ActionSend, "", StateBlocked, &IllegalTransitionError{}},
		{"report blocked", Message{State: StateBlocked, Blocked: true}, ActionReport, "x", StateBlocked, &IllegalTransitionError{}},
		{"send sent", Message{State: StateSent}, ActionSend, "", StateSent, &IllegalTransitionError{}},
		{"send own batch", Message{State: StatePending, AssignedTo: "ana"}, ActionSend, "", StateSent, nil},
		{"send another validator's batch", Message{State: StatePending, AssignedTo: "bruno"}, ActionSend, "", StatePending, &IllegalTransitionError{}},
		{"report another validator's batch", Message{State: StatePending, AssignedTo: "bruno"}, ActionReport, "x", StatePending, &IllegalTransitionError{}},
		{"return escalated", Message{State: StateEscalated, EscalatedBy: "ana"}, ActionReturn, "ver nota", StateBlocked, nil},
		{"return without explanation", Message{State: StateEscalated}, ActionReturn, "", StateEscalated, ErrCommentRequired},
		{"return resolved", Message{State: StateEscalated, Resolved: true}, ActionReturn, "x", StateEscalated, &IllegalTransitionError{}},
		{"return pending", Message{State: StatePending}, ActionReturn, "x", StatePending, &IllegalTransitionError{}},
		{"unblock blocked", Message{State: StateBlocked, Blocked: true}, ActionUnblock, "", StatePending, nil},
		{"unblock pending", Message{State: StatePending}, ActionUnblock, "", StatePending, &IllegalTransitionError{}},
		{"resolve escalated", Message{State: StateEscalated}, ActionResolve, "", StateEscalated, nil},
		{"resolve twice", Message{State: StateEscalated, Resolved: true}, ActionResolve, "", StateEscalated, &IllegalTransitionError{}},
		{"unknown action", Message{State: StatePending}, "ARCHIVAR", "", StatePending, &IllegalTransitionError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := tt.msg
			before := m
			from, err := Transition(&m, tt.action, "ana", tt.note, now)

			if from != before.State {
				t.Errorf("from = %q, want %q", from, before.State)
			}
			switch want := tt.wantErr.(type) {
			case nil:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			case *IllegalTransitionError:
				var ite *IllegalTransitionError
				if !errors.As(err, &ite) {
					t.Fatalf("err = %v, want IllegalTransitionError", err)
				}
			default:
				if !errors.Is(err, want) {
					t.Fatalf("err = %v, want %v", err, want)
				}
			}
			if m.State != tt.want {
				t.Errorf("State = %q, want %q", m.State, tt.want)
			}
			if err != nil && m.Blocked != before.Blocked {
				t.Error("message changed on a rejected transition")
			}
		})
	}
}

func TestTransition_ReturnAssignsReporter(t *testing.T) {
	t.Parallel()

	m := &Message{State: StatePending}
	if _, err := Transition(m, ActionReport, "ana", "la hora no corresponde", now); err != nil {
		t.Fatalf("REPORTAR: %v", err)
	}
	if m.EscalatedBy != "ana" || m.ValidatorComment != "la hora no corresponde" || m.EscalatedAt == nil {
		t.Errorf("escalation fields = %q %q %v", m.EscalatedBy, m.ValidatorComment, m.EscalatedAt)
	}

	if _, err := Transition(m, ActionReturn, "admin", "  ver instructivo  ", now); err != nil {
		t.Fatalf("DEVOLVER: %v", err)
	}
	if !m.Blocked || m.AssignedTo != "ana" || m.BlockReason != "ver instructivo" {
		t.Errorf("after DEVOLVER: blocked=%v assigned=%q reason=%q", m.Blocked, m.AssignedTo, m.BlockReason)
	}

	if _, err := Transition(m, ActionUnblock, "admin", "", now); err != nil {
		t.Fatalf("DESBLOQUEAR: %v", err)
	}
	if m.Blocked || m.BlockReason != "" || m.AssignedTo != "" {
		t.Errorf("after DESBLOQUEAR: blocked=%v reason=%q assigned=%q", m.Blocked, m.BlockReason, m.AssignedTo)
	}
}

func TestMessage_Terminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  Message
		want bool
	}{
		{Message{State: StatePending}, false},
		{Message{State: StateBlocked}, false},
		{Message{State: StateEscalated}, false},
		{Message{State: StateEscalated, Resolved: true}, true},
		{Message{State: StateSent}, true},
	}
	for _, tt := range tests {
		if got := tt.msg.Terminal(); got != tt.want {
			t.Errorf("Terminal(%s resolved=%v) = %v, want %v", tt.msg.State, tt.msg.Resolved, got, tt.want)
		}
	}
}

func TestFilter_Match(t *testing.T) {
	t.Parallel()

	no := false
	m := &Message{State: StatePending, Line: "Roca", AssignedTo: "ana"}
	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"zero", Filter{}, true},
		{"state", Filter{States: []State{StateSent, StatePending}}, true},
		{"other state", Filter{States: []State{StateSent}}, false},
		{"line", Filter{Line: "Sarmiento"}, false},
		{"assignee", Filter{AssignedTo: "ana", Blocked: &no}, true},
		{"unresolved", Filter{Unresolved: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.f.Match(m); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}
