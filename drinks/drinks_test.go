package drinks

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecipe_AcceptsObjectOrList(t *testing.T) {
	tests := map[string]struct {
		in   string
		want Recipe
	}{
		"list":   {`[{"name":"milk","color":"white","parts":2}]`, Recipe{{Name: "milk", Color: "white", Parts: 2}}},
		"object": {` {"name":"milk","color":"white","parts":2}`, Recipe{{Name: "milk", Color: "white", Parts: 2}}},
		"null":   {`null`, nil},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var got Recipe
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("recipe mismatch (-want +got):\n%s", diff)
			}
		})
	}

	var r Recipe
	if err := json.Unmarshal([]byte(`"milk"`), &r); err == nil {
		t.Fatalf("expected error for a bare string")
	}
}

func TestDrink_Short(t *testing.T) {
	d := Drink{ID: 3, Title: "latte", Recipe: Recipe{
		{Name: "espresso", Color: "brown", Parts: 1},
		{Name: "milk", Color: "white", Parts: 3},
	}}
	b, err := json.Marshal(d.Short())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":3,"title":"latte","recipe":[{"color":"brown","parts":1},{"color":"white","parts":3}]}`
	if string(b) != want {
		t.Fatalf("want %s, got %s", want, b)
	}
}

func TestDrink_Validate(t *testing.T) {
	if err := Sample().Validate(); err != nil {
		t.Fatalf("sample should be valid: %v", err)
	}
	for name, d := range map[string]Drink{
		"no title":       {Recipe: Recipe{{Name: "water"}}},
		"blank title":    {Title: "  ", Recipe: Recipe{{Name: "water"}}},
		"no recipe":      {Title: "water"},
		"negative parts": {Title: "water", Recipe: Recipe{{Name: "water", Parts: -1}}},
	} {
		if err := d.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestPatch_Apply(t *testing.T) {
	base := Drink{ID: 1, Title: "latte", Recipe: Recipe{{Name: "milk", Color: "white", Parts: 3}}}

	var p Patch
	if err := json.Unmarshal([]byte(`{"title":"flat white"}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := p.Apply(base)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := base
	want.Title = "flat white"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("patch mismatch (-want +got):\n%s", diff)
	}

	if err := json.Unmarshal([]byte(`{"recipe":{"name":"oat milk","color":"beige","parts":2}}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err = Patch{Recipe: p.Recipe}.Apply(base)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.Title != "latte" || len(got.Recipe) != 1 || got.Recipe[0].Name != "oat milk" {
		t.Fatalf("unexpected patched drink %+v", got)
	}

	empty := ""
	if _, err := (Patch{Title: &empty}).Apply(base); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid clearing the title, got %v", err)
	}
	if !(Patch{}).Empty() {
		t.Fatalf("zero patch must be empty")
	}
}
