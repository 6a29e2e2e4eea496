package merge

import "testing"

func ok(i int, text string) Outcome { return Outcome{Index: i, Text: text, OK: true} }
func failed(i int) Outcome { return Outcome{Index: i, OK: false} }

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []Outcome
		want     string
	}{
		{
			"all_ok",
			[]Outcome{ok(0, "first part."), ok(1, "second part.")},
			"first part.\n\nsecond part.",
		},
		{
			"middle_failure_keeps_index_order",
			[]Outcome{ok(0, "A"), failed(1), ok(2, "C")},
			"A\n\n[SEGMENT FAILED]\n\nC",
		},
		{
			"all_failed",
			[]Outcome{failed(0), failed(1), failed(2)},
			"[SEGMENT FAILED]\n\n[SEGMENT FAILED]\n\n[SEGMENT FAILED]",
		},
		{
			"single_segment",
			[]Outcome{ok(0, "only one")},
			"only one",
		},
		{
			"empty_input",
			nil,
			"",
		},
		{
			"whitespace_normalized",
			[]Outcome{ok(0, "  spaced   out \n\n\n text  "), ok(1, "tail")},
			"spaced out\ntext\n\ntail",
		},
		{
			"empty_text_chunk_dropped",
			[]Outcome{ok(0, "   \n \n"), ok(1, "real text")},
			"real text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.outcomes)
			if got != tt.want {
				t.Errorf("Merge = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMergeIdempotent(t *testing.T) {
	outcomes := []Outcome{ok(0, "some  text\nhere"), failed(1), ok(2, "more")}
	first := Merge(outcomes)
	second := Merge(outcomes)
	if first != second {
		t.Errorf("Merge not idempotent: %q vs %q", first, second)
	}

	// Re-merging the merged document as a single ok outcome is also stable.
	again := Merge([]Outcome{ok(0, first)})
	if again != first {
		t.Errorf("re-merge changed output: %q vs %q", again, first)
	}
}

func TestMergeWordingUntouched(t *testing.T) {
	// Normalization must not change transcribed words, only whitespace.
	in := "متن این فایل صوتی   مربوط به یک جلسه"
	got := Merge([]Outcome{ok(0, in)})
	want := "متن این فایل صوتی مربوط به یک جلسه"
	if got != want {
		t.Errorf("Merge = %q, want %q", got, want)
	}
}

func TestFailedCount(t *testing.T) {
	outcomes := []Outcome{ok(0, "a"), failed(1), failed(2), ok(3, "d")}
	if got := FailedCount(outcomes); got != 2 {
		t.Errorf("FailedCount = %d, want 2", got)
	}
	if got := FailedCount(nil); got != 0 {
		t.Errorf("FailedCount(nil) = %d, want 0", got)
	}
}
