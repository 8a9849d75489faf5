// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prompt

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPassPrompt(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		confirm bool
		want    string
		wantErr error
	}{
		{
			name:  "single entry",
			input: "hunter2\n",
			want:  "hunter2",
		},
		{
			name:  "empty lines are skipped",
			input: "\n  \nhunter2\n",
			want:  "hunter2",
		},
		{
			name:  "missing trailing newline",
			input: "hunter2",
			want:  "hunter2",
		},
		{
			name:    "confirmed",
			input:   "hunter2\nhunter2\n",
			confirm: true,
			want:    "hunter2",
		},
		{
			name:    "mismatch repeats",
			input:   "hunter2\nhunter3\nswordfish\nswordfish\n",
			confirm: true,
			want:    "swordfish",
		},
		{
			name:    "input ends",
			input:   "",
			wantErr: io.EOF,
		},
		{
			name:    "input ends before confirmation",
			input:   "hunter2\n",
			confirm: true,
			wantErr: io.EOF,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			p := New(strings.NewReader(tc.input), &out)

			pass, err := p.PassPrompt("Passphrase", tc.confirm)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, string(pass))
			require.Contains(t, out.String(), "Passphrase: ")
		})
	}
}

func TestPrivatePass(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("secret\nsecret\n"), &out)

	pass, err := p.PrivatePass("fee-wallet", true)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), pass)
	require.Contains(t, out.String(), "Wallet fee-wallet does not exist")
	require.Contains(t, out.String(), "Confirm passphrase")

	out.Reset()
	p = New(strings.NewReader("secret\n"), &out)

	pass, err = p.PrivatePass("fee-wallet", false)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), pass)
	require.NotContains(t, out.String(), "Confirm")
}
