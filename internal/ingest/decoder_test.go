package ingest

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
)

// decodeAll drains a decoder and returns its rows as value maps.
func decodeAll(t *testing.T, input string) ([]Row, *Decoder) {
	t.Helper()
	dec := NewDecoder(strings.NewReader(input))
	var rows []Row
	for {
		row, err := dec.Next()
		if err == io.EOF {
			return rows, dec
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		rows = append(rows, row)
	}
}

func TestDecoder_Basic(t *testing.T) {
	rows, _ := decodeAll(t, "name,age\nAlice,30\nBob,25\nCharlie,35\n")

	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	want := []struct {
		name, age string
		line      int
	}{
		{"Alice", "30", 2},
		{"Bob", "25", 3},
		{"Charlie", "35", 4},
	}
	for i, w := range want {
		name, _ := rows[i].Get("name")
		age, _ := rows[i].Get("age")
		if name != w.name || age != w.age {
			t.Errorf("row %d = (%q, %q), want (%q, %q)", i, name, age, w.name, w.age)
		}
		if rows[i].Line != w.line {
			t.Errorf("row %d line = %d, want %d", i, rows[i].Line, w.line)
		}
	}
}

func TestDecoder_TrimsAndSkipsBlankLines(t *testing.T) {
	rows, _ := decodeAll(t, " name , city \n\n  Alice ,  Paris  \n   \n\nBob,Oslo\n")

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if !reflect.DeepEqual(rows[0].Columns, []string{"name", "city"}) {
		t.Errorf("columns = %v, want [name city]", rows[0].Columns)
	}
	if city, _ := rows[0].Get("city"); city != "Paris" {
		t.Errorf("city = %q, want %q", city, "Paris")
	}
	if name, _ := rows[1].Get("name"); name != "Bob" {
		t.Errorf("name = %q, want %q", name, "Bob")
	}
}

func TestDecoder_KeepsRowsOfEmptyFields(t *testing.T) {
	rows, _ := decodeAll(t, "name,age\nAlice,30\n,\n , \nBob,25\n")

	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	for _, i := range []int{1, 2} {
		name, ok := rows[i].Get("name")
		if !ok || name != "" {
			t.Errorf("row %d name = (%q, %v), want empty string", i, name, ok)
		}
		age, ok := rows[i].Get("age")
		if !ok || age != "" {
			t.Errorf("row %d age = (%q, %v), want empty string", i, age, ok)
		}
	}
	if name, _ := rows[3].Get("name"); name != "Bob" {
		t.Errorf("name = %q, want %q", name, "Bob")
	}
}

func TestDecoder_RaggedLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]*string
	}{
		{
			name:  "short line leaves trailing columns null",
			input: "a,b,c\n1\n",
			want:  map[string]*string{"a": strp("1"), "b": nil, "c": nil},
		},
		{
			name:  "long line is truncated",
			input: "a,b\n1,2,3,4\n",
			want:  map[string]*string{"a": strp("1"), "b": strp("2")},
		},
		{
			name:  "empty field is an empty string",
			input: "a,b\n1,\n",
			want:  map[string]*string{"a": strp("1"), "b": strp("")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, _ := decodeAll(t, tt.input)
			if len(rows) != 1 {
				t.Fatalf("got %d rows, want 1", len(rows))
			}
			if len(rows[0].Values) != len(rows[0].Columns) {
				t.Fatalf("values = %d, columns = %d", len(rows[0].Values), len(rows[0].Columns))
			}
			for col, want := range tt.want {
				got, ok := rows[0].Get(col)
				if want == nil {
					if ok {
						t.Errorf("%s = %q, want null", col, got)
					}
					continue
				}
				if !ok || got != *want {
					t.Errorf("%s = (%q, %v), want %q", col, got, ok, *want)
				}
			}
		})
	}
}

func TestDecoder_HeaderNames(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   []string
	}{
		{"plain", "a,b,c", []string{"a", "b", "c"}},
		{"blank names", "a,,c", []string{"a", "column_2", "c"}},
		{"duplicates", "id,id,id", []string{"id", "id_2", "id_3"}},
		{"trimmed duplicates", " x ,x", []string{"x", "x_2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.header + "\n"))
			got, err := dec.Header()
			if err != nil {
				t.Fatalf("Header() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Header() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecoder_BOMAndInvalidUTF8(t *testing.T) {
	input := "\xEF\xBB\xBFname\n\xffbob\n"
	rows, dec := decodeAll(t, input)

	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Columns[0] != "name" {
		t.Errorf("first column = %q, BOM should be stripped", rows[0].Columns[0])
	}
	if got, _ := rows[0].Get("name"); got != "\uFFFDbob" {
		t.Errorf("name = %q, want invalid byte replaced", got)
	}
	if dec.BytesRead() != int64(len(input)) {
		t.Errorf("BytesRead() = %d, want %d", dec.BytesRead(), len(input))
	}
}

func TestDecoder_EmptyInputs(t *testing.T) {
	for _, input := range []string{"", "\n\n", "name,age\n", "name,age"} {
		rows, _ := decodeAll(t, input)
		if len(rows) != 0 {
			t.Errorf("input %q: got %d rows, want 0", input, len(rows))
		}
	}
}

func TestDecoder_QuotedFields(t *testing.T) {
	rows, _ := decodeAll(t, "name,note\n\"Smith, J\",\"said \"\"hi\"\"\"\n")
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if name, _ := rows[0].Get("name"); name != "Smith, J" {
		t.Errorf("name = %q", name)
	}
	if note, _ := rows[0].Get("note"); note != `said "hi"` {
		t.Errorf("note = %q", note)
	}
}

func TestDecoder_StreamFailure(t *testing.T) {
	boom := errors.New("connection reset")
	dec := NewDecoder(io.MultiReader(
		strings.NewReader("a,b\n1,2\n"),
		iotest.ErrReader(boom),
	))

	var err error
	for err == nil {
		_, err = dec.Next()
	}

	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("Next() error = %v (%T), want *DecodeError", err, err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("DecodeError should wrap the stream error, got %v", err)
	}
}

func TestRow_MarshalJSON(t *testing.T) {
	rows, _ := decodeAll(t, "b,a,c\n2,1\n")
	got, err := rows[0].MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	want := `{"b":"2","a":"1","c":null}`
	if string(got) != want {
		t.Errorf("MarshalJSON() = %s, want %s", got, want)
	}
}

func strp(s string) *string { return &s }
