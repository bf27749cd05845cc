package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/postgres"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

func TestFilterClause(t *testing.T) {
	t.Parallel()

	no := false
	tests := []struct {
		name      string
		f         audit.Filter
		wantWhere string
		wantArgs  []any
	}{
		{"empty", audit.Filter{}, "", nil},
		{
			"queue",
			audit.Filter{States: []audit.State{audit.StatePending}, Line: "Roca", AssignedTo: "ana", Blocked: &no},
			" WHERE state = ANY($1) AND line = $2 AND assigned_to = $3 AND blocked = $4",
			[]any{[]string{"PENDIENTE"}, "Roca", "ana", false},
		},
		{
			"error queue",
			audit.Filter{States: []audit.State{audit.StateEscalated}, Unresolved: true},
			" WHERE state = ANY($1) AND NOT resolved",
			[]any{[]string{"DERIVADO"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			where, args := filterClause(tt.f)
			if where != tt.wantWhere {
				t.Errorf("where = %q, want %q", where, tt.wantWhere)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}

// openStore connects to the test database. Every test works on its own line
// name so runs do not interfere.
func openStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("AUDITORIA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AUDITORIA_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func uniqueLine(t *testing.T) string {
	t.Helper()
	return "test-" + ulid.Make().String()
}

func newMessage(line string, i int) *audit.Message {
	now := time.Now().Truncate(time.Microsecond).UTC()
	return &audit.Message{
		ExternalID: fmt.Sprintf("%s-%d", line, i),
		Content:    "EL TREN 3254 DESDE CONSTITUCION HACIA LA PLATA CIRCULA CON DEMORAS",
		Operator:   "operador1",
		Line:       line,
		SentAt:     now.Add(time.Duration(i) * time.Minute),
		Groups:     []string{"roca-general"},
		ImportedAt: now,
		State:      audit.StatePending,
		Result: classify.Result{
			Type:           classify.TypeTrain,
			Level:          classify.LevelImportant,
			Classification: classify.Classification{Important: []string{"Falta hora de ocurrencia"}},
			RulesetVersion: 1,
		},
	}
}

func TestInsertGetAndDedup(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	line := uniqueLine(t)

	m := newMessage(line, 0)
	ok, err := s.Insert(ctx, m)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !ok || m.ID == 0 {
		t.Fatalf("Insert = %v, id %d; want a new row", ok, m.ID)
	}

	again := newMessage(line, 0)
	ok, err = s.Insert(ctx, again)
	if err != nil {
		t.Fatalf("Insert duplicate: %v", err)
	}
	if ok {
		t.Error("duplicate external id was inserted")
	}

	got, found, err := s.Get(ctx, m.ID)
	if err != nil || !found {
		t.Fatalf("Get = %v, %v", found, err)
	}
	if got.ExternalID != m.ExternalID || got.Line != line || !got.SentAt.Equal(m.SentAt) {
		t.Errorf("Get = %+v", got)
	}
	if got.Level != classify.LevelImportant || got.RulesetVersion != 1 {
		t.Errorf("result = %q v%d", got.Level, got.RulesetVersion)
	}
	if len(got.Groups) != 1 || got.Groups[0] != "roca-general" {
		t.Errorf("Groups = %v", got.Groups)
	}

	_, found, err = s.Get(ctx, -1)
	if err != nil || found {
		t.Errorf("Get missing = %v, %v", found, err)
	}
}

func TestUpdateOptimistic(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	m := newMessage(uniqueLine(t), 0)
	if _, err := s.Insert(ctx, m); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	now := time.Now().UTC()
	m.State = audit.StateEscalated
	m.EscalatedBy = "ana"
	m.ValidatorComment = "falta la hora"
	m.EscalatedAt = &now
	if err := s.Update(ctx, m, audit.StatePending); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, m, audit.StatePending); !errors.Is(err, audit.ErrStaleState) {
		t.Errorf("second Update = %v, want ErrStaleState", err)
	}
	if err := s.Update(ctx, &audit.Message{ID: -1}, audit.StatePending); !errors.Is(err, audit.ErrNotFound) {
		t.Errorf("Update missing = %v, want ErrNotFound", err)
	}

	got, _, _ := s.Get(ctx, m.ID)
	if got.State != audit.StateEscalated || got.EscalatedBy != "ana" || got.EscalatedAt == nil {
		t.Errorf("stored = %q %q %v", got.State, got.EscalatedBy, got.EscalatedAt)
	}
}

func TestClaimBatchAndRelease(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	line := uniqueLine(t)
	for i := range 7 {
		if _, err := s.Insert(ctx, newMessage(line, i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	first, err := s.ClaimBatch(ctx, line, "ana", 5)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(first) != 5 {
		t.Fatalf("len = %d, want 5", len(first))
	}
	for i := 1; i < len(first); i++ {
		if first[i].SentAt.Before(first[i-1].SentAt) {
			t.Errorf("batch not ordered by send time")
		}
	}

	second, _ := s.ClaimBatch(ctx, line, "beto", 5)
	if len(second) != 2 {
		t.Errorf("second batch = %d, want 2", len(second))
	}

	counts, err := s.PendingByLine(ctx)
	if err != nil {
		t.Fatalf("PendingByLine: %v", err)
	}
	if counts[line] != 0 {
		t.Errorf("pending = %d, want 0", counts[line])
	}

	n, err := s.Release(ctx, "ana")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if n < 5 {
		t.Errorf("released = %d, want at least 5", n)
	}

	no := false
	free, _ := s.List(ctx, audit.Filter{Line: line, AssignedTo: "beto", Blocked: &no})
	if len(free) != 2 {
		t.Errorf("beto still holds %d, want 2", len(free))
	}
}

func TestCommit(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	s := openStore(t)
	ctx := context.Background()
	line := uniqueLine(t)

	pending := newMessage(line, 0)
	sent := newMessage(line, 1)
	sent.State = audit.StateSent
	escalated := newMessage(line, 2)
	escalated.State = audit.StateEscalated
	for _, m := range []*audit.Message{pending, sent, escalated} {
		if _, err := s.Insert(ctx, m); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	base := &rules.Rule{
		ID:          ulid.Make().String(),
		Description: "Problemas técnicos sin hora declarada",
		Pattern:     rules.Pattern{Contingency: "03", Finding: "falta_hora"},
		Kind:        rules.KindFieldWaiver,
		Action:      rules.Action{Effect: rules.EffectSuppress, Target: "falta_hora"},
		Scope:       line,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Commit(ctx, audit.Commit{Rule: base}); err != nil {
		t.Fatalf("Commit base: %v", err)
	}

	ext := *base
	ext.ID = ulid.Make().String()
	ext.Extends = base.ID
	ext.Pattern.Regex = "PROBLEMAS TECNICOS"

	done := classify.Result{Level: classify.LevelComplete, RulesetVersion: 2}
	err := s.Commit(ctx, audit.Commit{
		Rule:       &ext,
		Deactivate: base.ID,
		Results: []audit.Reclassified{
			{ID: pending.ID, From: audit.StatePending, Result: done},
			{ID: sent.ID, From: audit.StateSent, Result: done},
			{ID: escalated.ID, From: audit.StateEscalated, Result: done, Resolve: true},
		},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, _, _ := s.Get(ctx, pending.ID)
	if got.Level != classify.LevelComplete || got.RulesetVersion != 2 {
		t.Errorf("pending = %q v%d", got.Level, got.RulesetVersion)
	}
	got, _, _ = s.Get(ctx, sent.ID)
	if got.Level != classify.LevelImportant || got.RulesetVersion != 1 {
		t.Errorf("sent message was reclassified: %q v%d", got.Level, got.RulesetVersion)
	}
	got, _, _ = s.Get(ctx, escalated.ID)
	if !got.Resolved {
		t.Error("escalated message not resolved")
	}

	stored, err := s.Rules(ctx)
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	var baseActive, extActive *bool
	for i := range stored {
		switch stored[i].ID {
		case base.ID:
			baseActive = &stored[i].Active
		case ext.ID:
			extActive = &stored[i].Active
			if stored[i].Pattern.Regex != "PROBLEMAS TECNICOS" || stored[i].Extends != base.ID {
				t.Errorf("extension = %+v", stored[i])
			}
		}
	}
	if baseActive == nil || *baseActive {
		t.Error("extended rule should be stored inactive")
	}
	if extActive == nil || !*extActive {
		t.Error("extension should be stored active")
	}

	// a failing commit writes nothing
	err = s.Commit(ctx, audit.Commit{Rule: &ext, Results: []audit.Reclassified{
		{ID: pending.ID, From: audit.StateSent, Result: classify.Result{RulesetVersion: 9}},
	}})
	if err == nil {
		t.Fatal("expected duplicate rule id to fail")
	}

	var commitSpan bool
	for _, span := range sr.Ended() {
		if span.Name() != "pgstore.Commit" {
			continue
		}
		commitSpan = true
		for _, attr := range span.Attributes() {
			if attr.Key == attribute.Key("db.system") && attr.Value.AsString() != "postgresql" {
				t.Errorf("db.system = %q", attr.Value.AsString())
			}
		}
	}
	if !commitSpan {
		t.Error("no pgstore.Commit span recorded")
	}
}
