package cmdparse

import (
	"testing"

	"github.com/availkv/availkv/internal/command"
)

func TestParseLine_Shapes(t *testing.T) {
	cases := []struct {
		line string
		want command.Cmd
	}{
		{"begin(T1)", command.Begin{Txn: "T1"}},
		{"R(T1,x2)", command.Read{Txn: "T1", Var: 2}},
		{"W(T1,x2,101)", command.Write{Txn: "T1", Var: 2, Value: 101}},
		{"end(T1)", command.End{Txn: "T1"}},
		{"fail(3)", command.Fail{Site: 3}},
		{"recover(3)", command.Recover{Site: 3}},
		{"dump()", command.Dump{}},
		{"  W( T2 , x10 , -5 )  ", command.Write{Txn: "T2", Var: 10, Value: -5}},
	}

	for _, c := range cases {
		got, err := ParseLine(c.line)
		if err != nil {
			t.Errorf("ParseLine(%q) returned error: %v", c.line, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseLine(%q) = %#v, want %#v", c.line, got, c.want)
		}
	}
}

func TestParseLine_CommentsAndBlanks(t *testing.T) {
	cases := []string{"", "   ", "// a comment", "# also a comment"}
	for _, line := range cases {
		cmd, err := ParseLine(line)
		if cmd != nil || err != nil {
			t.Errorf("ParseLine(%q) = (%v, %v), want (nil, nil)", line, cmd, err)
		}
	}
}

func TestParseLine_Malformed(t *testing.T) {
	cases := []string{
		"begin T1",
		"begin()",
		"R(T1)",
		"W(T1,x2)",
		"R(T1,y2)",
		"W(T1,x2,abc)",
		"fail(abc)",
		"nonsense(1)",
	}
	for _, line := range cases {
		if _, err := ParseLine(line); err == nil {
			t.Errorf("ParseLine(%q) should have failed", line)
		}
	}
}

func TestParseVar(t *testing.T) {
	if v, err := ParseVar("x7"); err != nil || v != 7 {
		t.Errorf("ParseVar(x7) = (%d, %v), want (7, nil)", v, err)
	}
	if _, err := ParseVar("7"); err == nil {
		t.Errorf("ParseVar(7) should fail without the x prefix")
	}
}
