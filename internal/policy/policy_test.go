package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/radkollektiv/ridesignup/internal/model"
)

func TestEvaluate(t *testing.T) {
	ev := NewEvaluator(2, 4)
	release := time.Date(2026, 6, 12, 18, 0, 0, 0, time.UTC)

	open := model.EventMeta{PublicReleaseDate: &release}
	flintaOnly := model.EventMeta{PublicReleaseDate: &release, IsFlintaOnly: true}
	noRelease := model.EventMeta{}

	afterRelease := release.Add(time.Hour)
	inMemberWindow := release.Add(-24 * time.Hour)     // 1 day early: member + flinta windows
	inFlintaWindowOnly := release.Add(-72 * time.Hour) // 3 days early: flinta window only
	beforeAllWindows := release.Add(-120 * time.Hour)  // 5 days early

	tests := []struct {
		name       string
		now        time.Time
		event      model.EventMeta
		actor      Actor
		wantReason string
	}{
		{"flinta-only denies non-attested even after release", afterRelease, flintaOnly, Actor{IsMember: true}, ReasonFlintaOnly},
		{"flinta-only allows attested after release", afterRelease, flintaOnly, Actor{FlintaAttested: true}, ""},
		{"no release date is always open", beforeAllWindows, noRelease, Actor{}, ""},
		{"public phase admits everyone", afterRelease, open, Actor{}, ""},
		{"exactly at release admits everyone", release, open, Actor{}, ""},
		{"member window denies non-member non-attested", inMemberWindow, open, Actor{}, ReasonMemberEarlyAccess},
		{"member window still denies plain member via flinta check", inMemberWindow, open, Actor{IsMember: true}, ReasonFlintaEarlyAccess},
		{"member window admits attested non-member", inMemberWindow, open, Actor{FlintaAttested: true}, ""},
		{"flinta window denies non-attested member", inFlintaWindowOnly, open, Actor{IsMember: true}, ReasonFlintaEarlyAccess},
		{"flinta window admits attested actor", inFlintaWindowOnly, open, Actor{FlintaAttested: true}, ""},
		{"before all windows denies even attested", beforeAllWindows, open, Actor{FlintaAttested: true}, ReasonNotOpenYet},
		{"before all windows denies member", beforeAllWindows, open, Actor{IsMember: true}, ReasonNotOpenYet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ev.Evaluate(tt.now, tt.event, tt.actor)
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("Evaluate() = %v, want allow", err)
				}
				return
			}
			var denied *DeniedError
			if !errors.As(err, &denied) {
				t.Fatalf("Evaluate() = %v, want DeniedError", err)
			}
			if denied.Reason != tt.wantReason {
				t.Fatalf("denial reason = %q, want %q", denied.Reason, tt.wantReason)
			}
		})
	}
}

func TestWindowBoundaries(t *testing.T) {
	ev := NewEvaluator(2, 4)
	release := time.Date(2026, 6, 12, 18, 0, 0, 0, time.UTC)
	event := model.EventMeta{PublicReleaseDate: &release}

	// The flinta window opens exactly FLINTA_EARLY_DAYS before release.
	atFlintaOpen := release.Add(-4 * 24 * time.Hour)
	if err := ev.Evaluate(atFlintaOpen, event, Actor{FlintaAttested: true}); err != nil {
		t.Fatalf("attested actor at flinta window open: %v", err)
	}
	justBefore := atFlintaOpen.Add(-time.Second)
	var denied *DeniedError
	if err := ev.Evaluate(justBefore, event, Actor{FlintaAttested: true}); !errors.As(err, &denied) || denied.Reason != ReasonNotOpenYet {
		t.Fatalf("just before flinta window: got %v, want not-open-yet", err)
	}
}
