package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadExpression(t *testing.T) {
	_, err := New(".[")
	require.ErrorContains(t, err, "parse filter")

	_, err = New("undefined_fn(1)")
	require.ErrorContains(t, err, "compile filter")
}

func TestEmptyExpressionIsIdentity(t *testing.T) {
	f, err := New("")
	require.NoError(t, err)
	require.True(t, f.IsIdentity())
	require.Equal(t, ".", f.String())
}

func TestWriteRawIdentityCompacts(t *testing.T) {
	f, err := New(Identity)
	require.NoError(t, err)

	var out bytes.Buffer
	w := NewWriter(&out, f)
	ctx := context.Background()
	require.NoError(t, w.WriteRaw(ctx, json.RawMessage("{\n  \"frame\": 1,\n  \"kind\": \"acl\"\n}")))
	require.NoError(t, w.WriteRaw(ctx, json.RawMessage(`{"frame": 2, "note": "<b>"}`)))
	require.NoError(t, w.Flush())

	require.Equal(t, "{\"frame\":1,\"kind\":\"acl\"}\n{\"frame\":2,\"note\":\"<b>\"}\n", out.String())
	require.Equal(t, 2, w.Count())
}

func TestWriteRawDuplicateKeysMatchAcrossExpressions(t *testing.T) {
	raw := json.RawMessage(`{"z":1,"a":2,"a":3,"n":{"x":1.50,"x":7}}`)

	var lines []string
	for _, expr := range []string{Identity, ".|."} {
		f, err := New(expr)
		require.NoError(t, err)
		var out bytes.Buffer
		w := NewWriter(&out, f)
		require.NoError(t, w.WriteRaw(context.Background(), raw))
		require.NoError(t, w.Flush())
		lines = append(lines, out.String())
	}

	require.Equal(t, "{\"a\":3,\"n\":{\"x\":7},\"z\":1}\n", lines[0])
	require.Equal(t, lines[0], lines[1])
}

func TestWriteRawRejectsInvalidJSON(t *testing.T) {
	for _, expr := range []string{".", ".frame"} {
		f, err := New(expr)
		require.NoError(t, err)
		w := NewWriter(&bytes.Buffer{}, f)
		require.ErrorContains(t, w.WriteRaw(context.Background(), json.RawMessage(`{"frame":`)), "invalid record")
	}
}

func TestWriteRawAppliesExpression(t *testing.T) {
	tests := []struct {
		name string
		expr string
		in   []string
		want []string
	}{
		{
			name: "select",
			expr: `select(.kind == "acl") | {frame, handle: .acl.handle}`,
			in: []string{
				`{"frame":1,"kind":"command"}`,
				`{"frame":2,"kind":"acl","acl":{"handle":64}}`,
			},
			want: []string{`{"frame":2,"handle":64}`},
		},
		{
			name: "explode array",
			expr: `.[]`,
			in:   []string{`[{"a":1},{"a":2}]`},
			want: []string{`{"a":1}`, `{"a":2}`},
		},
		{
			name: "empty",
			expr: `empty`,
			in:   []string{`{"a":1}`},
			want: nil,
		},
		{
			name: "arithmetic on numbers",
			expr: `.length * 2`,
			in:   []string{`{"length":21}`, `{"length":1.5}`},
			want: []string{`42`, `3`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.expr)
			require.NoError(t, err)

			var out bytes.Buffer
			w := NewWriter(&out, f)
			for _, in := range tt.in {
				require.NoError(t, w.WriteRaw(context.Background(), json.RawMessage(in)))
			}
			require.NoError(t, w.Flush())

			var got []string
			for _, line := range strings.Split(out.String(), "\n") {
				if line != "" {
					got = append(got, line)
				}
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("output mismatch (-want +got):\n%s", diff)
			}
			require.Equal(t, len(tt.want), w.Count())
		})
	}
}

func TestApplyRuntimeError(t *testing.T) {
	f, err := New(`.a + 1`)
	require.NoError(t, err)

	err = f.Apply(context.Background(), map[string]any{"a": "x"}, func(any) error { return nil })
	require.ErrorContains(t, err, `filter ".a + 1"`)
}

func TestApplyHalt(t *testing.T) {
	f, err := New(`1, halt, 2`)
	require.NoError(t, err)

	var got []any
	require.NoError(t, f.Apply(context.Background(), nil, func(v any) error {
		got = append(got, v)
		return nil
	}))
	require.Equal(t, []any{1}, got)
}
