package engine

import "testing"

func TestBehaviorFor(t *testing.T) {
	tests := []struct {
		name  string
		mode  Mode
		class Classification
		want  ModeBehavior
	}{
		{
			name:  "dry run simulates safe commands",
			mode:  ModeDryRun,
			class: ClassSafe,
			want:  ModeBehavior{SimulateOnly: true, Authority: AuthorityNone},
		},
		{
			name:  "dry run simulates destructive commands",
			mode:  ModeDryRun,
			class: ClassDestructive,
			want:  ModeBehavior{SimulateOnly: true, Authority: AuthorityNone},
		},
		{
			name:  "guarded exec runs safe commands without authority",
			mode:  ModeGuardedExec,
			class: ClassSafe,
			want:  ModeBehavior{Execute: true, Authority: AuthorityNone},
		},
		{
			name:  "guarded exec blocks destructive commands",
			mode:  ModeGuardedExec,
			class: ClassDestructive,
			want: ModeBehavior{
				Blocked:     true,
				BlockReason: "DESTRUCTIVE commands are blocked in GUARDED_EXEC mode",
			},
		},
		{
			name:  "full enforce runs safe commands without authority",
			mode:  ModeFullEnforce,
			class: ClassSafe,
			want:  ModeBehavior{Execute: true, Authority: AuthorityNone},
		},
		{
			name:  "full enforce requires human authority for destructive commands",
			mode:  ModeFullEnforce,
			class: ClassDestructive,
			want:  ModeBehavior{Execute: true, Authority: AuthorityHuman},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BehaviorFor(tt.mode, tt.class); got != tt.want {
				t.Errorf("BehaviorFor(%s, %s) = %+v, want %+v", tt.mode, tt.class, got, tt.want)
			}
		})
	}
}

func TestRequiredAuthority(t *testing.T) {
	if got := RequiredAuthority(IsolateHost, ModeFullEnforce); got != AuthorityHuman {
		t.Errorf("RequiredAuthority(ISOLATE_HOST, FULL_ENFORCE) = %s, want HUMAN", got)
	}
	if got := RequiredAuthority(BlockProcess, ModeFullEnforce); got != AuthorityNone {
		t.Errorf("RequiredAuthority(BLOCK_PROCESS, FULL_ENFORCE) = %s, want NONE", got)
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"DRY_RUN", "GUARDED_EXEC", "FULL_ENFORCE"} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q): %v", s, err)
		}
	}
	for _, s := range []string{"", "OBSERVE", "dry_run"} {
		if _, err := ParseMode(s); err == nil {
			t.Errorf("ParseMode(%q) should have been rejected", s)
		}
	}
}
