package plan

import (
	"reflect"
	"testing"

	"github.com/Sternrassler/github-code-search/pkg/client"
)

func TestNumberOfPhases(t *testing.T) {
	tests := []struct {
		total int
		want  int
	}{
		{0, 1},
		{1, 1},
		{450, 1},
		{1000, 1},
		{1001, 2},
		{1500, 2},
		{2000, 2},
		{2001, 3},
		{3500, 3},
		{1000000, 3},
	}

	for _, tt := range tests {
		if got := NumberOfPhases(tt.total); got != tt.want {
			t.Errorf("NumberOfPhases(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestTotalFetches(t *testing.T) {
	tests := []struct {
		total int
		want  int
	}{
		{0, 1},
		{1, 1},
		{100, 1},
		{101, 2},
		{450, 5},
		{999, 10},
		{1000, 10},
		{1001, 20},
		{2000, 20},
		{2001, 30},
		{3500, 30},
	}

	for _, tt := range tests {
		if got := TotalFetches(tt.total); got != tt.want {
			t.Errorf("TotalFetches(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestTotalFetches_MatchesCeilBelowCap(t *testing.T) {
	for total := 1; total <= ResultCap; total++ {
		want := (total + 99) / 100
		if got := TotalFetches(total); got != want {
			t.Fatalf("TotalFetches(%d) = %d, want %d", total, got, want)
		}
		if n := len(Build(total).Phases); n != 1 {
			t.Fatalf("Build(%d) has %d phases, want 1", total, n)
		}
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name       string
		total      int
		wantPhases int
		wantFetch  int
	}{
		{name: "small result set", total: 450, wantPhases: 1, wantFetch: 5},
		{name: "exactly at cap", total: 1000, wantPhases: 1, wantFetch: 10},
		{name: "two phases", total: 1800, wantPhases: 2, wantFetch: 20},
		{name: "three phases", total: 3500, wantPhases: 3, wantFetch: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Build(tt.total)
			if len(p.Phases) != tt.wantPhases {
				t.Errorf("len(Phases) = %d, want %d", len(p.Phases), tt.wantPhases)
			}
			if p.TotalFetches != tt.wantFetch {
				t.Errorf("TotalFetches = %d, want %d", p.TotalFetches, tt.wantFetch)
			}
			for i, phase := range p.Phases {
				if phase != DefaultPhases[i] {
					t.Errorf("Phases[%d] = %+v, want %+v", i, phase, DefaultPhases[i])
				}
			}
		})
	}
}

func TestBuild_DoesNotAliasDefaultPhases(t *testing.T) {
	p := Build(3500)
	p.Phases[0].FirstPage = 99

	if DefaultPhases[0].FirstPage != 2 {
		t.Errorf("DefaultPhases mutated through Build result")
	}
}

func TestDefaultPhases(t *testing.T) {
	tests := []struct {
		index     int
		sort      string
		order     string
		base      int
		wantPages []int
	}{
		{0, client.SortIndexed, client.OrderDesc, 0, []int{2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{1, client.SortIndexed, client.OrderAsc, 1, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{2, "", "", 2, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
	}

	for _, tt := range tests {
		phase := DefaultPhases[tt.index]
		if phase.Sort != tt.sort || phase.Order != tt.order {
			t.Errorf("phase %d ordering = %q/%q, want %q/%q", tt.index, phase.Sort, phase.Order, tt.sort, tt.order)
		}
		if phase.ProgressBase != tt.base {
			t.Errorf("phase %d ProgressBase = %d, want %d", tt.index, phase.ProgressBase, tt.base)
		}
		if got := phase.Pages(); !reflect.DeepEqual(got, tt.wantPages) {
			t.Errorf("phase %d Pages() = %v, want %v", tt.index, got, tt.wantPages)
		}
	}
}

func TestPhase_Pages_Empty(t *testing.T) {
	if pages := (Phase{FirstPage: 5, LastPage: 4}).Pages(); pages != nil {
		t.Errorf("Pages() = %v, want nil", pages)
	}
}

func TestPhase_Query(t *testing.T) {
	q := DefaultPhases[1].Query("foo language:go")

	want := client.Query{Term: "foo language:go", Sort: client.SortIndexed, Order: client.OrderAsc}
	if q != want {
		t.Errorf("Query() = %+v, want %+v", q, want)
	}

	if got := FirstQuery("foo"); got.Sort != client.SortIndexed || got.Order != client.OrderDesc {
		t.Errorf("FirstQuery() = %+v, want indexed/desc", got)
	}
}

func TestPlan_Fraction(t *testing.T) {
	p := Build(3500)

	tests := []struct {
		name string
		page int
		base int
		want float64
	}{
		{name: "first page", page: 1, base: 0, want: 1.0 / 30},
		{name: "last page of phase 0", page: 10, base: 0, want: 10.0 / 30},
		{name: "last page of phase 1", page: 10, base: 1, want: 11.0 / 30},
		{name: "last page of phase 2", page: 10, base: 2, want: 12.0 / 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Fraction(tt.page, tt.base); got != tt.want {
				t.Errorf("Fraction(%d, %d) = %v, want %v", tt.page, tt.base, got, tt.want)
			}
		})
	}
}

func TestPlan_Fraction_ClampsToOne(t *testing.T) {
	p := Build(450)

	if got := p.Fraction(5, 0); got != 1 {
		t.Errorf("Fraction(5, 0) = %v, want 1", got)
	}
	if got := p.Fraction(9, 0); got != 1 {
		t.Errorf("Fraction(9, 0) = %v, want 1 (clamped)", got)
	}
	if got := (Plan{}).Fraction(1, 0); got != 1 {
		t.Errorf("zero plan Fraction = %v, want 1", got)
	}
}

func TestPlan_Fraction_IncreasesWithinPhase(t *testing.T) {
	p := Build(3500)

	for _, phase := range p.Phases {
		prev := 0.0
		for _, page := range phase.Pages() {
			f := p.Fraction(page, phase.ProgressBase)
			if f <= prev {
				t.Errorf("phase base %d page %d: fraction %v not above %v", phase.ProgressBase, page, f, prev)
			}
			if f <= 0 || f > 1 {
				t.Errorf("fraction %v outside (0, 1]", f)
			}
			prev = f
		}
	}
}
