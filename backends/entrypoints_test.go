// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseEntryPoints(t *testing.T) {
	src := `
typedef struct { dim_t dims[4]; dim_t strides[4]; dim_t offset; } KParam;

// kernel void commented_out(int x)
/* kernel void also_commented(int y) */
kernel void copy_kernel(global T *out, global const T *in, const KParam op,
                        const KParam ip, const int blocksX) {
    out[0] = in[0];
}

__kernel void fill(__global T * restrict out, int n) {}
`
	entries, err := ParseEntryPoints(src)
	require.NoError(t, err)
	want := []EntryPoint{
		{Name: "copy_kernel", Params: []Param{
			{Name: "out", Kind: ParamBuffer},
			{Name: "in", Kind: ParamBuffer, Const: true},
			{Name: "op", Kind: ParamInfo, Const: true},
			{Name: "ip", Kind: ParamInfo, Const: true},
			{Name: "blocksX", Kind: ParamInt, Const: true},
		}},
		{Name: "fill", Params: []Param{
			{Name: "out", Kind: ParamBuffer},
			{Name: "n", Kind: ParamInt},
		}},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("ParseEntryPoints mismatch (-want +got):\n%s", diff)
	}

	entry, err := FindEntryPoint(src, "fill")
	require.NoError(t, err)
	require.Len(t, entry.Params, 2)
	_, err = FindEntryPoint(src, "commented_out")
	require.Error(t, err)
}

func TestParseEntryPoints_Errors(t *testing.T) {
	_, err := ParseEntryPoints(`kernel void bad(float x) {}`)
	require.ErrorContains(t, err, "unsupported parameter type")
	_, err = ParseEntryPoints(`kernel void bad(int) {}`)
	require.ErrorContains(t, err, "cannot parse")

	entries, err := ParseEntryPoints(`kernel void noargs(void) {}`)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Empty(t, entries[0].Params)
}
