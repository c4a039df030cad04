package taxonomy

import (
	"reflect"
	"testing"
)

func TestEmptyTaxonomyAcceptsEverything(t *testing.T) {
	tax := &Taxonomy{}
	report := tax.Validate([]string{"food", "error:timeout", "path:a/b"})
	if len(report.Rejected) != 0 {
		t.Fatalf("rejected %v", report.Rejected)
	}
	if len(report.Accepted) != 3 {
		t.Fatalf("accepted %v", report.Accepted)
	}
}

func TestValidate(t *testing.T) {
	tax := &Taxonomy{
		AllowedKeys: []string{"lang", "env", "path"},
		AllowedValues: map[string][]string{
			"env": {"prod", "dev"},
		},
		AllowedValuePrefixes: map[string][]string{
			"path": {"src/", "docs/"},
		},
	}

	t.Run("plain cues always accepted", func(t *testing.T) {
		report := tax.Validate([]string{"payment"})
		if !reflect.DeepEqual(report.Accepted, []string{"payment"}) {
			t.Errorf("accepted = %v", report.Accepted)
		}
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		report := tax.Validate([]string{"owner:me"})
		if len(report.Rejected) != 1 || report.Rejected[0].Code != CodeUnknownKey {
			t.Errorf("rejected = %v", report.Rejected)
		}
	})

	t.Run("value constraint", func(t *testing.T) {
		report := tax.Validate([]string{"env:prod", "env:staging"})
		if !reflect.DeepEqual(report.Accepted, []string{"env:prod"}) {
			t.Errorf("accepted = %v", report.Accepted)
		}
		if len(report.Rejected) != 1 || report.Rejected[0].Code != CodeUnknownValue {
			t.Errorf("rejected = %v", report.Rejected)
		}
	})

	t.Run("prefix constraint", func(t *testing.T) {
		report := tax.Validate([]string{"path:src/main.go", "path:tmp/x"})
		if !reflect.DeepEqual(report.Accepted, []string{"path:src/main.go"}) {
			t.Errorf("accepted = %v", report.Accepted)
		}
	})

	t.Run("unconstrained key value accepted", func(t *testing.T) {
		report := tax.Validate([]string{"lang:zig"})
		if len(report.Accepted) != 1 {
			t.Errorf("accepted = %v", report.Accepted)
		}
	})

	t.Run("bad format", func(t *testing.T) {
		report := tax.Validate([]string{"env:", ":prod"})
		if len(report.Rejected) != 2 {
			t.Fatalf("rejected = %v", report.Rejected)
		}
		for _, r := range report.Rejected {
			if r.Code != CodeBadFormat {
				t.Errorf("code = %s", r.Code)
			}
		}
	})
}
