package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustCompile(t *testing.T, specs []Spec) []Rule {
	t.Helper()
	compiled, err := Compile(specs)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return compiled
}

func TestEvaluate(t *testing.T) {
	leak := Spec{
		Name:            "leak",
		Keywords:        []string{"breach", "leak"},
		ExcludeKeywords: []string{"test"},
		Enabled:         true,
	}

	tests := []struct {
		name  string
		text  string
		specs []Spec
		want  []string
	}{
		{
			name:  "keyword matches",
			text:  "Confirmed breach of internal systems",
			specs: []Spec{leak},
			want:  []string{"leak"},
		},
		{
			name:  "exclude keyword vetoes",
			text:  "test leak environment",
			specs: []Spec{leak},
			want:  nil,
		},
		{
			name:  "no keyword no match",
			text:  "nothing relevant",
			specs: []Spec{leak},
			want:  nil,
		},
		{
			name:  "keyword is case insensitive",
			text:  "MASSIVE DATA LEAK reported",
			specs: []Spec{leak},
			want:  []string{"leak"},
		},
		{
			name: "regex alone is sufficient",
			text: "we raised $4M this week",
			specs: []Spec{{
				Name:     "funding",
				Keywords: []string{"seed round"},
				Regex:    []string{`\braised\s+\$?\d+`},
				Enabled:  true,
			}},
			want: []string{"funding"},
		},
		{
			name: "keyword alone is sufficient when regex misses",
			text: "closing our seed round next month",
			specs: []Spec{{
				Name:     "funding",
				Keywords: []string{"seed round"},
				Regex:    []string{`\braised\s+\$?\d+`},
				Enabled:  true,
			}},
			want: []string{"funding"},
		},
		{
			name: "exclude vetoes even when regex matches",
			text: "not hiring, but we have an opening soon",
			specs: []Spec{{
				Name:            "hiring",
				Keywords:        []string{"hiring"},
				Regex:           []string{`\b(opening|role|position)\b`},
				ExcludeKeywords: []string{"not hiring"},
				Enabled:         true,
			}},
			want: nil,
		},
		{
			name: "regex is case insensitive",
			text: "New OPENING on the team",
			specs: []Spec{{
				Name:    "hiring",
				Regex:   []string{`\bopening\b`},
				Enabled: true,
			}},
			want: []string{"hiring"},
		},
		{
			name:  "empty text matches nothing",
			text:  "",
			specs: []Spec{leak},
			want:  nil,
		},
		{
			name:  "whitespace only text matches nothing",
			text:  "   \n\t ",
			specs: []Spec{leak},
			want:  nil,
		},
		{
			name: "all matching rules returned in order",
			text: "breach and leak and we are hiring",
			specs: []Spec{
				{Name: "first", Keywords: []string{"breach"}, Enabled: true},
				{Name: "second", Keywords: []string{"hiring"}, Enabled: true},
				{Name: "third", Keywords: []string{"unrelated"}, Enabled: true},
			},
			want: []string{"first", "second"},
		},
		{
			name: "disabled rule never matches",
			text: "breach detected",
			specs: []Spec{
				{Name: "off", Keywords: []string{"breach"}, Enabled: false},
			},
			want: nil,
		},
		{
			name: "unicode keywords",
			text: "Произошла утечка данных",
			specs: []Spec{
				{Name: "leak-ru", Keywords: []string{"утечка"}, Enabled: true},
			},
			want: []string{"leak-ru"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled := mustCompile(t, tt.specs)
			var got []string
			for _, m := range Evaluate(tt.text, compiled) {
				got = append(got, m.RuleName)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluateReason(t *testing.T) {
	compiled := mustCompile(t, []Spec{{
		Name:     "hiring",
		Keywords: []string{"hiring", "looking for"},
		Regex:    []string{`\bopening\b`},
		Enabled:  true,
	}})

	matches := Evaluate("We are hiring! Opening on the infra team, looking for SREs", compiled)
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	want := "keyword(s): hiring, looking for\nregex: \\bopening\\b"
	if diff := cmp.Diff(want, matches[0].Reason); diff != "" {
		t.Errorf("reason mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		specs   []Spec
		wantErr bool
	}{
		{
			name:    "valid keyword rule",
			specs:   []Spec{{Name: "ok", Keywords: []string{"x"}, Enabled: true}},
			wantErr: false,
		},
		{
			name:    "no keywords and no regex",
			specs:   []Spec{{Name: "empty", Enabled: true}},
			wantErr: true,
		},
		{
			name:    "disabled empty rule is dropped, not an error",
			specs:   []Spec{{Name: "empty", Enabled: false}},
			wantErr: false,
		},
		{
			name:    "invalid regex",
			specs:   []Spec{{Name: "bad", Regex: []string{"[invalid"}, Enabled: true}},
			wantErr: true,
		},
		{
			name:    "empty name",
			specs:   []Spec{{Keywords: []string{"x"}, Enabled: true}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.specs)
			gotErr := err != nil
			if diff := cmp.Diff(tt.wantErr, gotErr); diff != "" {
				t.Errorf("Compile() error mismatch (-want +got):\n%s\nerr: %v", diff, err)
			}
		})
	}
}

func TestValidateRegex(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{name: "valid simple", pattern: "hello", wantErr: false},
		{name: "valid alternation", pattern: "breach|leak", wantErr: false},
		{name: "invalid unclosed bracket", pattern: "[invalid", wantErr: true},
		{name: "invalid bad repetition", pattern: "*bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegex(tt.pattern)
			gotErr := err != nil
			if diff := cmp.Diff(tt.wantErr, gotErr); diff != "" {
				t.Errorf("ValidateRegex() error mismatch (-want +got):\n%s\nerr: %v", diff, err)
			}
		})
	}
}
