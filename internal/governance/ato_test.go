package governance

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCreateATO(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	ato, err := svc.CreateATO(ctx, homeOrg, "initial memo", "artifacts v1")
	if err != nil {
		t.Fatalf("create ato: %v", err)
	}
	if ato.Version != 1 || ato.ID == "" {
		t.Fatalf("ato = %+v, want version 1 with a tx id", ato)
	}
	if ato.Created.IsZero() || !ato.Created.Equal(ato.LastUpdated) {
		t.Fatalf("ato timestamps = %v / %v", ato.Created, ato.LastUpdated)
	}

	_, err = svc.CreateATO(ctx, homeOrg, "again", "artifacts")
	if !errors.Is(err, ErrATOExists) {
		t.Fatalf("second create: got %v, want ErrATOExists", err)
	}
}

func TestUpdateATO(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.UpdateATO(ctx, homeOrg, "memo", "artifacts"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update before create: got %v, want ErrNotFound", err)
	}

	if _, err := svc.CreateATO(ctx, homeOrg, "initial memo", "artifacts v1"); err != nil {
		t.Fatalf("create ato: %v", err)
	}
	ato, err := svc.UpdateATO(ctx, homeOrg, "revised memo", "artifacts v2")
	if err != nil {
		t.Fatalf("update ato: %v", err)
	}
	if ato.Version != 2 || ato.Memo != "revised memo" || ato.Artifacts != "artifacts v2" {
		t.Fatalf("ato = %+v, want version 2 with replaced contents", ato)
	}
}

func TestSubmitFeedback(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.CreateATO(ctx, homeOrg, "initial memo", "artifacts v1"); err != nil {
		t.Fatalf("create ato: %v", err)
	}
	if _, err := svc.UpdateATO(ctx, homeOrg, "revised memo", "artifacts v2"); err != nil {
		t.Fatalf("update ato: %v", err)
	}

	err := svc.SubmitFeedback(ctx, "Org2", homeOrg, 1, "stale")
	if !errors.Is(err, ErrATOVersion) {
		t.Fatalf("feedback on old version: got %v, want ErrATOVersion", err)
	}
	if !strings.Contains(err.Error(), "got 1, current is 2") {
		t.Fatalf("feedback version message: %v", err)
	}

	if err := svc.SubmitFeedback(ctx, "Org2", homeOrg, 2, "looks reasonable"); err != nil {
		t.Fatalf("submit feedback: %v", err)
	}

	ato, err := svc.GetATO(ctx, homeOrg)
	if err != nil {
		t.Fatalf("get ato: %v", err)
	}
	if len(ato.Feedback) != 1 {
		t.Fatalf("feedback len = %d, want 1", len(ato.Feedback))
	}
	fb := ato.Feedback[0]
	if fb.AccountID != "Org2" || fb.ATOVersion != 2 || fb.Comments != "looks reasonable" {
		t.Fatalf("feedback = %+v", fb)
	}
}

func TestATOHistory(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.GetATOHistory(ctx, homeOrg); !errors.Is(err, ErrNotFound) {
		t.Fatalf("history before create: got %v, want ErrNotFound", err)
	}

	if _, err := svc.CreateATO(ctx, homeOrg, "initial memo", "artifacts v1"); err != nil {
		t.Fatalf("create ato: %v", err)
	}
	if _, err := svc.UpdateATO(ctx, homeOrg, "revised memo", "artifacts v2"); err != nil {
		t.Fatalf("update ato: %v", err)
	}
	if err := svc.SubmitFeedback(ctx, "Org2", homeOrg, 2, "ok"); err != nil {
		t.Fatalf("submit feedback: %v", err)
	}

	history, err := svc.GetATOHistory(ctx, homeOrg)
	if err != nil {
		t.Fatalf("ato history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history len = %d, want 3", len(history))
	}
	if len(history[0].ATO.Feedback) != 1 || history[0].ATO.Version != 2 {
		t.Fatalf("latest snapshot = %+v", history[0].ATO)
	}
	if history[2].ATO.Version != 1 || history[2].ATO.Memo != "initial memo" {
		t.Fatalf("oldest snapshot = %+v", history[2].ATO)
	}
}
