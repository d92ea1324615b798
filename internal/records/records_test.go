package records

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

func rec(status, branch, bill string) Record {
	return Record{OrderStatus: status, BranchName: branch, BillNo: bill}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   Status
		wantOK bool
	}{
		{"Success", StatusSuccess, true},
		{"  Aborted ", StatusAborted, true},
		{"success", "", false},
		{"Pending", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseStatus(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseStatus(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNormalizeBillNoIsTrimOnly(t *testing.T) {
	if got := NormalizeBillNo(" b1 "); got != "b1" {
		t.Errorf("NormalizeBillNo(\" b1 \") = %q, want %q", got, "b1")
	}
	if NormalizeBillNo(" b1 ") == NormalizeBillNo("B1") {
		t.Error("expected \" b1 \" and \"B1\" to stay distinct")
	}
	if r := rec("Success", "X", "   "); r.HasKey() {
		t.Error("blank bill number should not have a key")
	}
}

func TestSheetTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "KILPAUK", "KILPAUK"},
		{"trimmed", "  Anna Nagar ", "Anna Nagar"},
		{"forbidden characters", `A/B\C*D?E:F[G]`, "A_B_C_D_E_F_G_"},
		{"truncated", strings.Repeat("x", 40), strings.Repeat("x", 31)},
		{"multibyte truncated by rune", strings.Repeat("é", 35), strings.Repeat("é", 31)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SheetTitle(tt.in); got != tt.want {
				t.Errorf("SheetTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPartition(t *testing.T) {
	input := []Record{
		rec("Failure", "Adyar", "F1"),
		rec("Success", "KILPAUK", "B1"),
		rec("Success", "Adyar", "B2"),
		rec("Pending", "Adyar", "P1"),
		rec("Success", "KILPAUK", "B3"),
		rec("", "Adyar", "E1"),
		rec("Aborted", "Tambaram", "A1"),
	}

	p := Partition(input)

	if p.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", p.Dropped)
	}

	var keys []Key
	for _, g := range p.Groups {
		keys = append(keys, g.Key)
	}
	wantKeys := []Key{
		{StatusSuccess, "KILPAUK"},
		{StatusSuccess, "Adyar"},
		{StatusFailure, "Adyar"},
		{StatusAborted, "Tambaram"},
	}
	if diff := cmp.Diff(wantKeys, keys); diff != "" {
		t.Errorf("group order mismatch (-want +got):\n%s", diff)
	}

	kilpauk := p.Groups[0].Records
	if len(kilpauk) != 2 || kilpauk[0].BillNo != "B1" || kilpauk[1].BillNo != "B3" {
		t.Errorf("KILPAUK group = %+v, want B1 then B3", kilpauk)
	}

	if got := p.Total(); got != len(input)-p.Dropped {
		t.Errorf("Total() = %d, want %d", got, len(input)-p.Dropped)
	}

	counts := p.StatusCounts()
	if counts[StatusSuccess] != 3 || counts[StatusFailure] != 1 || counts[StatusAborted] != 1 {
		t.Errorf("StatusCounts() = %v", counts)
	}
	if _, ok := counts[StatusTimeout]; ok {
		t.Error("StatusCounts() should omit statuses without records")
	}
}

func TestPartitionCompleteness(t *testing.T) {
	var input []Record
	branches := []string{"A", "B", "C"}
	for i := 0; i < 60; i++ {
		st := string(Statuses[i%len(Statuses)])
		if i%11 == 0 {
			st = "Unknown"
		}
		input = append(input, rec(st, branches[i%len(branches)], string(rune('a'+i%26))+strings.Repeat("x", i)))
	}

	p := Partition(input)

	seen := make(map[string]int)
	for _, g := range p.Groups {
		for _, r := range g.Records {
			st, _ := r.Status()
			if st != g.Key.Status || r.BranchName != g.Key.Branch {
				t.Fatalf("record %q landed in group %+v", r.BillNo, g.Key)
			}
			seen[r.BillNo]++
		}
	}

	valid := 0
	for _, r := range input {
		if _, ok := r.Status(); ok {
			valid++
			if seen[r.BillNo] != 1 {
				t.Errorf("record %q appears %d times, want 1", r.BillNo, seen[r.BillNo])
			}
		}
	}
	if p.Total() != valid || p.Dropped != len(input)-valid {
		t.Errorf("Total() = %d, Dropped = %d, want %d and %d", p.Total(), p.Dropped, valid, len(input)-valid)
	}
}

func TestSumAmounts(t *testing.T) {
	recs := []Record{
		{BillAmount: decimal.NewFromInt(100), DiscountAmount: decimal.NewFromInt(10), TaxAmount: decimal.NewFromInt(5), NetAmount: decimal.NewFromInt(85)},
		{BillAmount: decimal.NewFromInt(200), TaxAmount: decimal.NewFromInt(10), NetAmount: decimal.NewFromInt(190)},
		{BillAmount: decimal.NewFromInt(50), DiscountAmount: decimal.NewFromInt(5), NetAmount: decimal.NewFromInt(45)},
	}
	got := SumAmounts(recs)
	for name, pair := range map[string][2]decimal.Decimal{
		"bill":     {got.BillAmount, decimal.NewFromInt(350)},
		"discount": {got.DiscountAmount, decimal.NewFromInt(15)},
		"tax":      {got.TaxAmount, decimal.NewFromInt(15)},
		"net":      {got.NetAmount, decimal.NewFromInt(320)},
	} {
		if !pair[0].Equal(pair[1]) {
			t.Errorf("%s total = %s, want %s", name, pair[0], pair[1])
		}
	}
}
