// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prompt asks the operator for wallet passphrases.
package prompt

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNotTerminal is returned when a passphrase is needed but there is no
// terminal to ask on.
var ErrNotTerminal = errors.New("standard input is not a terminal")

// Prompter reads passphrases from an input, echoing prompts to an output.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer

	// readPassword reads one line without echo.
	readPassword func() ([]byte, error)
}

// New returns a Prompter reading from in.  When in is a terminal input is not
// echoed; otherwise lines are read as they are.
func New(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{
		in:  bufio.NewReader(in),
		out: out,
	}

	p.readPassword = p.readLine
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		p.readPassword = func() ([]byte, error) {
			pass, err := term.ReadPassword(fd)
			fmt.Fprint(p.out, "\n")
			return pass, err
		}
	}

	return p
}

// Stdin returns a Prompter on the process terminal.  It fails with
// ErrNotTerminal when standard input is not one.
func Stdin() (*Prompter, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, ErrNotTerminal
	}
	return New(os.Stdin, os.Stdout), nil
}

func (p *Prompter) readLine() ([]byte, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// PassPrompt prompts for a passphrase with the given prefix until a non-empty
// one is entered.  With confirm set it is asked for twice and the prompts
// repeat until both match.
func (p *Prompter) PassPrompt(prefix string, confirm bool) ([]byte, error) {
	for {
		fmt.Fprintf(p.out, "%s: ", prefix)
		pass, err := p.readPassword()
		if err != nil {
			return nil, err
		}
		pass = bytes.TrimSpace(pass)
		if len(pass) == 0 {
			continue
		}

		if !confirm {
			return pass, nil
		}

		fmt.Fprint(p.out, "Confirm passphrase: ")
		again, err := p.readPassword()
		if err != nil {
			return nil, err
		}
		again = bytes.TrimSpace(again)
		if !bytes.Equal(pass, again) {
			fmt.Fprintln(p.out, "The entered passphrases do not match")
			clear(pass)
			clear(again)
			continue
		}
		clear(again)

		return pass, nil
	}
}

// PrivatePass asks for the private passphrase of the named wallet.  A wallet
// about to be created has its passphrase confirmed.
func (p *Prompter) PrivatePass(walletName string, create bool) ([]byte,
	error) {

	if create {
		fmt.Fprintf(p.out, "Wallet %s does not exist and will be "+
			"created.\n", walletName)
		return p.PassPrompt("Enter a private passphrase for the new "+
			"wallet", true)
	}
	return p.PassPrompt(fmt.Sprintf("Enter the private passphrase of "+
		"wallet %s", walletName), false)
}
